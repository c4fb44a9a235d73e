package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// console is the terminal front end. It presents alerts and toasts and
// answers platform prompts from the next line the operator types.
type console struct {
	out     io.Writer
	autoYes bool

	mu      sync.Mutex
	prompts []prompt
}

type prompt struct {
	text   string
	answer func(yes bool)
}

func newConsole(out io.Writer, autoYes bool) *console {
	return &console{out: out, autoYes: autoYes}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) Toast(message string) {
	c.printf("* %s", message)
}

func (c *console) Alert(title, message string, ok func()) {
	text := fmt.Sprintf("[%s] %s", title, message)
	if c.autoYes {
		c.printf("%s", text)
		go ok()
		return
	}
	c.enqueue(prompt{text: text + " (press Enter)", answer: func(bool) { ok() }})
}

// Ask implements platform.Prompter.
func (c *console) Ask(question string, answer func(bool)) {
	if c.autoYes {
		c.printf("%s yes", question)
		go answer(true)
		return
	}
	c.enqueue(prompt{text: question + " [y/N]", answer: answer})
}

func (c *console) enqueue(p prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	if len(c.prompts) == 1 {
		fmt.Fprintln(c.out, p.text)
	}
}

// answer consumes line as the reply to the oldest open prompt. It reports
// false when no prompt is waiting.
func (c *console) answer(line string) bool {
	c.mu.Lock()
	if len(c.prompts) == 0 {
		c.mu.Unlock()
		return false
	}
	p := c.prompts[0]
	c.prompts = c.prompts[1:]
	if len(c.prompts) > 0 {
		fmt.Fprintln(c.out, c.prompts[0].text)
	}
	c.mu.Unlock()

	p.answer(isYes(line))
	return true
}

func (c *console) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
