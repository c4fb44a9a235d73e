package platform

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dxb134111/roc-droid-modified/internal/sender"
)

// CaptureIntent is the request shown to the operator before system audio
// capture begins.
type CaptureIntent struct {
	Device string
}

// CaptureGrants asks the operator for consent to capture system playback
// and mints a Grant when they agree.
type CaptureGrants struct {
	prompter Prompter
	device   string
}

func NewCaptureGrants(prompter Prompter, device string) *CaptureGrants {
	return &CaptureGrants{prompter: prompter, device: device}
}

func (g *CaptureGrants) CreateCaptureIntent() sender.Intent {
	return CaptureIntent{Device: g.device}
}

func (g *CaptureGrants) LaunchForResult(intent sender.Intent, done func(sender.ResultCode, any)) {
	ci, _ := intent.(CaptureIntent)
	question := "Allow this sender to capture system audio?"
	if ci.Device != "" {
		question = fmt.Sprintf("Allow this sender to capture system audio from %s?", ci.Device)
	}
	g.prompter.Ask(question, func(yes bool) {
		if !yes {
			done(sender.ResultCanceled, nil)
			return
		}
		done(sender.ResultOK, ci)
	})
}

// TokenFrom returns nil unless the result is OK and carries the intent
// that was launched.
func (g *CaptureGrants) TokenFrom(code sender.ResultCode, data any) sender.Grant {
	if code != sender.ResultOK {
		return nil
	}
	ci, ok := data.(CaptureIntent)
	if !ok {
		return nil
	}
	grant := &Grant{id: uuid.NewString(), device: ci.Device}
	log.Info("playback capture granted", "grantId", grant.id, "device", ci.Device)
	return grant
}

// Grant is an operator's consent to one playback capture session.
type Grant struct {
	id       string
	device   string
	released atomic.Bool
}

func (g *Grant) ID() string     { return g.id }
func (g *Grant) Device() string { return g.device }

// Release revokes the grant. Further calls do nothing.
func (g *Grant) Release() {
	if g.released.CompareAndSwap(false, true) {
		log.Info("playback capture released", "grantId", g.id)
	}
}

func (g *Grant) Released() bool { return g.released.Load() }
