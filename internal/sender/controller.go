// Package sender implements the sender session controller: it gates a
// start request on capture permissions, resolves the destination, starts the
// transport, and reports the Idle/Running boundary to a single listener.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dxb134111/roc-droid-modified/internal/dispatch"
	"github.com/dxb134111/roc-droid-modified/internal/logging"
)

var log = logging.L("sender")

const (
	msgEmptyInput    = "Enter an IP address or domain name"
	msgResolveFailed = "Domain resolution failed, check the input or the network"
	msgStarted       = "Sender started (target: %s)"
	msgStartFailed   = "Sender failed to start: %v"
	msgStreamEnded   = "Sender stopped: %v"
)

// Options wires a Controller to its collaborators. Transport, Permissions
// and CaptureGrants are required; everything else has a default.
type Options struct {
	Transport     Transport
	Permissions   Permissions
	CaptureGrants CaptureGrants
	Resolver      AddressResolver
	Selector      *Selector
	Preferences   Preferences
	Presenter     Presenter
	// Loop is the home context. A private loop is started when nil.
	Loop *dispatch.Loop
	// DestinationInput returns the current destination text; Toggle reads
	// it at the start of every attempt.
	DestinationInput func() string
}

// attempt is one start sequence, from request to Running or back to Idle.
type attempt struct {
	id     string
	source CaptureSource
	input  string
	ctx    context.Context
	cancel context.CancelFunc
	grant  Grant
	log    *slog.Logger
}

// Controller owns the session state. Every mutation and every listener
// callback happens on the home loop; public methods only enqueue work and
// return immediately. Callbacks from gates and the resolver carry their
// attempt and are dropped once that attempt is no longer current.
type Controller struct {
	loop      *dispatch.Loop
	ownLoop   bool
	transport Transport
	gates     map[CaptureSource]Gate
	resolver  AddressResolver
	selector  *Selector
	prefs     Preferences
	presenter Presenter
	input     func() string

	// loop-owned
	state    State
	current  *attempt
	listener StateListener

	stateView atomic.Int32
}

func NewController(opts Options) *Controller {
	c := &Controller{
		loop:      opts.Loop,
		transport: opts.Transport,
		resolver:  opts.Resolver,
		selector:  opts.Selector,
		prefs:     opts.Preferences,
		presenter: opts.Presenter,
		input:     opts.DestinationInput,
	}
	if c.loop == nil {
		c.loop = dispatch.New()
		c.ownLoop = true
	}
	if c.resolver == nil {
		c.resolver = NewResolver(nil)
	}
	if c.selector == nil {
		c.selector = NewSelector(SystemPlayback)
	}
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	if c.input == nil {
		c.input = func() string { return "" }
	}
	c.gates = map[CaptureSource]Gate{
		Microphone:     NewMicrophoneGate(opts.Permissions, c.presenter),
		SystemPlayback: NewPlaybackGate(opts.Transport, opts.CaptureGrants),
	}
	return c
}

// Selector returns the capture source selector read by Toggle.
func (c *Controller) Selector() *Selector {
	return c.selector
}

// Toggle is the single user action: stop when running, otherwise start with
// the selected source and the current destination input. It is ignored while
// an attempt is in flight.
func (c *Controller) Toggle() {
	c.loop.Submit(c.toggle)
}

// RequestStart starts an attempt from Idle. While Running it stops instead;
// while an attempt is in flight it is ignored.
func (c *Controller) RequestStart(destinationInput string, source CaptureSource) {
	c.loop.Submit(func() {
		switch {
		case c.state == Running:
			c.stop()
		case c.state.Transient():
			log.Warn("start ignored, attempt already in progress", logging.KeyState, c.state.String())
		default:
			c.start(destinationInput, source)
		}
	})
}

// RequestStop halts the transport and cancels any in-flight attempt. It is
// a no-op from Idle.
func (c *Controller) RequestStop() {
	c.loop.Submit(c.stop)
}

// TransportEnded reports that the transport stopped on its own, for
// example because the recorder exited. A Running session returns to Idle
// and the listener sees false. It is ignored when no session is running or
// the transport has already started a newer stream.
func (c *Controller) TransportEnded(err error) {
	c.loop.Submit(func() {
		if c.state != Running || c.transport.IsRunning() {
			log.Debug("transport end ignored", logging.KeyState, c.state.String(), logging.KeyError, err)
			return
		}
		a := c.current
		if a != nil {
			a.log.Warn("transport ended while running", logging.KeyError, err)
		}
		c.presenter.Toast(fmt.Sprintf(msgStreamEnded, err))
		c.finish(a)
	})
}

// SetStateListener replaces the registered listener; nil clears it.
func (c *Controller) SetStateListener(listener StateListener) {
	c.loop.Submit(func() {
		c.listener = listener
	})
}

func (c *Controller) ClearStateListener() {
	c.SetStateListener(nil)
}

func (c *Controller) CurrentlyRunning() bool {
	return c.State() == Running
}

// State returns the most recent state published by the home loop.
func (c *Controller) State() State {
	return State(c.stateView.Load())
}

// Sync waits until every request submitted before it has been handled.
func (c *Controller) Sync(ctx context.Context) error {
	return c.loop.Call(ctx, func() {})
}

// Close stops any session and, if the controller started its own loop,
// drains it.
func (c *Controller) Close(ctx context.Context) error {
	err := c.loop.Call(ctx, c.stop)
	if c.ownLoop {
		c.loop.Drain(ctx)
	}
	if errors.Is(err, dispatch.ErrStopped) {
		return nil
	}
	return err
}

func (c *Controller) toggle() {
	switch {
	case c.state == Running:
		log.Info("stopping sender")
		c.stop()
	case c.state.Transient():
		log.Warn("toggle ignored, attempt already in progress", logging.KeyState, c.state.String())
	default:
		log.Info("starting sender")
		c.start(c.input(), c.selector.Current())
	}
}

func (c *Controller) start(input string, source CaptureSource) {
	input = strings.TrimSpace(input)
	if input == "" {
		log.Info("start rejected", logging.KeyError, ErrEmptyInput)
		c.presenter.Toast(msgEmptyInput)
		return
	}
	gate, ok := c.gates[source]
	if !ok {
		log.Warn("start rejected, no gate for source", logging.KeySource, source.String())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:     uuid.NewString(),
		source: source,
		input:  input,
		ctx:    ctx,
		cancel: cancel,
	}
	a.log = logging.WithAttempt(log, a.id, source.String())
	a.ctx = logging.NewContext(ctx, a.log)
	c.current = a
	c.setState(AwaitingCapability)
	a.log.Debug("awaiting capability", logging.KeyDestination, input)

	gate.Begin(a.ctx, func(res GateResult) {
		if !c.loop.Submit(func() { c.onGate(a, res) }) && res.Grant != nil {
			res.Grant.Release()
		}
	})
}

func (c *Controller) onGate(a *attempt, res GateResult) {
	if c.current != a || c.state != AwaitingCapability {
		a.log.Debug("stale gate result dropped")
		if res.Grant != nil {
			res.Grant.Release()
		}
		return
	}

	switch res.Outcome {
	case GateDenied:
		a.log.Info("capability not granted", logging.KeyError, res.Err)
		c.finish(a)
		return
	case GateRetoggle:
		a.log.Info("permission granted, restarting attempt")
		c.finish(a)
		c.toggle()
		return
	}

	a.grant = res.Grant
	c.setState(Resolving)
	err := c.resolver.ResolveAsync(a.ctx, a.input, func(dest Destination, err error) {
		c.loop.Submit(func() { c.onResolved(a, dest, err) })
	})
	if err != nil {
		c.fail(a, err)
	}
}

func (c *Controller) onResolved(a *attempt, dest Destination, err error) {
	if c.current != a || c.state != Resolving {
		a.log.Debug("stale resolution dropped")
		return
	}
	if err != nil {
		c.fail(a, err)
		return
	}

	if err := c.transport.Start(dest, a.grant); err != nil {
		c.fail(a, &TransportError{Err: err})
		return
	}

	c.setState(Running)
	a.log.Info("sender running", logging.KeyDestination, dest.Host)
	c.savePreferences(a)
	c.presenter.Toast(fmt.Sprintf(msgStarted, dest.Host))
	c.notify(true)
}

// fail surfaces err to the user and rolls the attempt back to Idle.
func (c *Controller) fail(a *attempt, err error) {
	a.log.Warn("attempt failed", logging.KeyError, err)

	var terr *TransportError
	switch {
	case errors.Is(err, ErrEmptyInput):
		c.presenter.Toast(msgEmptyInput)
	case errors.Is(err, ErrHostNotFound):
		c.presenter.Toast(msgResolveFailed)
	case errors.As(err, &terr):
		c.presenter.Toast(fmt.Sprintf(msgStartFailed, terr.Err))
	case errors.Is(err, context.Canceled):
	default:
		c.presenter.Toast(fmt.Sprintf(msgStartFailed, err))
	}
	c.finish(a)
}

func (c *Controller) stop() {
	if c.state == Idle {
		if c.transport.IsRunning() {
			c.transport.Stop()
		}
		return
	}

	if c.state == Running || c.transport.IsRunning() {
		c.transport.Stop()
	}
	c.finish(c.current)
}

// finish ends a, releases its grant, and returns to Idle.
func (c *Controller) finish(a *attempt) {
	if a != nil {
		a.cancel()
		if a.grant != nil {
			a.grant.Release()
			a.grant = nil
		}
	}
	if c.current == a {
		c.current = nil
	}
	c.setState(Idle)
}

func (c *Controller) setState(s State) {
	prev := c.state
	if prev == s {
		return
	}
	c.state = s
	c.stateView.Store(int32(s))
	log.Debug("state changed", "from", prev.String(), logging.KeyState, s.String())

	if s == Idle {
		c.notify(false)
	}
}

func (c *Controller) notify(running bool) {
	if c.listener != nil {
		c.listener(running)
	}
}

func (c *Controller) savePreferences(a *attempt) {
	if c.prefs == nil {
		return
	}
	playback := strconv.FormatBool(a.source == SystemPlayback)
	if err := c.prefs.Put(PrefPlaybackCapture, playback); err != nil {
		a.log.Warn("failed to save preference", "key", PrefPlaybackCapture, logging.KeyError, err)
	}
	if err := c.prefs.Put(PrefReceiverAddress, a.input); err != nil {
		a.log.Warn("failed to save preference", "key", PrefReceiverAddress, logging.KeyError, err)
	}
}
