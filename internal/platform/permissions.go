// Package platform supplies the host-side collaborators the sender
// controller needs: microphone permission, playback capture consent, and a
// short description of the machine for status output.
package platform

import (
	"github.com/dxb134111/roc-droid-modified/internal/logging"
	"github.com/dxb134111/roc-droid-modified/internal/sender"
)

var log = logging.L("platform")

// PrefMicPermission holds the remembered answer to the microphone prompt.
const PrefMicPermission = "mic_permission"

const (
	answerGranted = "granted"
	answerDenied  = "denied"
)

// Prompter asks the operator a yes/no question. answer may be invoked on
// any goroutine, at most once, possibly long after Ask returns.
type Prompter interface {
	Ask(question string, answer func(yes bool))
}

// AutoPrompter answers every question with Answer on a new goroutine.
type AutoPrompter struct {
	Answer bool
}

func (p AutoPrompter) Ask(_ string, answer func(bool)) {
	go answer(p.Answer)
}

// Permissions gates microphone access on a remembered operator answer and
// on the capture device being readable by this process.
type Permissions struct {
	prefs    sender.Preferences
	prompter Prompter
	device   string
}

func NewPermissions(prefs sender.Preferences, prompter Prompter, device string) *Permissions {
	return &Permissions{prefs: prefs, prompter: prompter, device: device}
}

func (p *Permissions) Check(kind sender.PermissionKind) bool {
	if kind != sender.RecordAudio {
		return false
	}
	answer, _ := p.prefs.Get(PrefMicPermission)
	if answer != answerGranted {
		return false
	}
	if !deviceAccessible(p.device) {
		log.Warn("capture device not accessible", "device", p.device)
		return false
	}
	return true
}

// ShouldShowRationale reports whether the operator declined before.
func (p *Permissions) ShouldShowRationale(kind sender.PermissionKind) bool {
	answer, _ := p.prefs.Get(PrefMicPermission)
	return kind == sender.RecordAudio && answer == answerDenied
}

// Request prompts the operator and persists the answer before reporting
// it. A granted answer still reports false when the device is unreadable.
func (p *Permissions) Request(kind sender.PermissionKind, done func(bool)) {
	if kind != sender.RecordAudio {
		go done(false)
		return
	}
	p.prompter.Ask("Allow this sender to record from the microphone?", func(yes bool) {
		answer := answerDenied
		if yes {
			answer = answerGranted
		}
		if err := p.prefs.Put(PrefMicPermission, answer); err != nil {
			log.Warn("failed to remember microphone answer", logging.KeyError, err)
		}
		log.Info("microphone permission answered", "granted", yes)
		done(yes && deviceAccessible(p.device))
	})
}
