package sender

import "context"

const (
	micDialogTitle   = "Allow microphone"
	micRationaleText = "The sender needs microphone access to stream ambient audio. Press OK to grant it."
	micGrantedText   = "Microphone access granted. Press OK to start the sender."
)

// GateOutcome is how a capability gate finished.
type GateOutcome int

const (
	// GateGranted lets the attempt continue to address resolution.
	GateGranted GateOutcome = iota
	// GateDenied ends the attempt without starting a session.
	GateDenied
	// GateRetoggle ends the attempt and asks the controller to issue a
	// fresh toggle, used after the rationale round-trip.
	GateRetoggle
)

// GateResult is delivered once per Begin call.
type GateResult struct {
	Outcome GateOutcome
	Grant   Grant // playback grant, nil otherwise
	Err     error
}

// Gate is an asynchronous precondition that must pass before a session of
// its capture source may resolve and start. Begin must not block; done may
// be called from any goroutine, including synchronously.
type Gate interface {
	Source() CaptureSource
	Begin(ctx context.Context, done func(GateResult))
}

// MicrophoneGate negotiates the record-audio permission.
type MicrophoneGate struct {
	perms     Permissions
	presenter Presenter
}

func NewMicrophoneGate(perms Permissions, presenter Presenter) *MicrophoneGate {
	if presenter == nil {
		presenter = nopPresenter{}
	}
	return &MicrophoneGate{perms: perms, presenter: presenter}
}

func (g *MicrophoneGate) Source() CaptureSource { return Microphone }

// Begin checks, in order: already granted; rationale needed (request only
// after the user acknowledges it, however long that takes); request
// directly.
func (g *MicrophoneGate) Begin(ctx context.Context, done func(GateResult)) {
	switch {
	case g.perms.Check(RecordAudio):
		done(GateResult{Outcome: GateGranted})

	case g.perms.ShouldShowRationale(RecordAudio):
		g.presenter.Alert(micDialogTitle, micRationaleText, func() {
			if ctx.Err() != nil {
				return
			}
			g.perms.Request(RecordAudio, func(granted bool) {
				if !granted {
					done(GateResult{Outcome: GateDenied, Err: ErrPermissionDenied})
					return
				}
				g.presenter.Alert(micDialogTitle, micGrantedText, func() {
					done(GateResult{Outcome: GateRetoggle})
				})
			})
		})

	default:
		g.perms.Request(RecordAudio, func(granted bool) {
			if !granted {
				done(GateResult{Outcome: GateDenied, Err: ErrPermissionDenied})
				return
			}
			done(GateResult{Outcome: GateGranted})
		})
	}
}

// PlaybackGate obtains a one-time system-playback capture grant.
type PlaybackGate struct {
	transport Transport
	grants    CaptureGrants
}

func NewPlaybackGate(transport Transport, grants CaptureGrants) *PlaybackGate {
	return &PlaybackGate{transport: transport, grants: grants}
}

func (g *PlaybackGate) Source() CaptureSource { return SystemPlayback }

// Begin calls PreStart on the transport before the grant prompt. A
// playback Start without it is refused.
func (g *PlaybackGate) Begin(ctx context.Context, done func(GateResult)) {
	g.transport.PreStart()
	intent := g.grants.CreateCaptureIntent()
	g.grants.LaunchForResult(intent, func(code ResultCode, data any) {
		grant := g.grants.TokenFrom(code, data)
		if grant == nil {
			done(GateResult{Outcome: GateDenied, Err: ErrCaptureGrantDenied})
			return
		}
		done(GateResult{Outcome: GateGranted, Grant: grant})
	})
}
