package sender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	mu        sync.Mutex
	preStarts int
	starts    []Destination
	grants    []Grant
	stops     int
	running   bool
	startErr  error
}

func (f *fakeTransport) PreStart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preStarts++
}

func (f *fakeTransport) Start(dest Destination, grant Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, dest)
	f.grants = append(f.grants, grant)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeTransport) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTransport) counts() (preStarts, starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preStarts, len(f.starts), f.stops
}

// fakePermissions answers Request automatically when answer is set,
// otherwise parks the callback in pending.
type fakePermissions struct {
	mu        sync.Mutex
	granted   bool
	rationale bool
	answer    *bool
	checks    int
	requests  int
	pending   []func(bool)
	onCheck   func()
}

func (f *fakePermissions) Check(PermissionKind) bool {
	f.mu.Lock()
	f.checks++
	hook := f.onCheck
	granted := f.granted
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return granted
}

func (f *fakePermissions) ShouldShowRationale(PermissionKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rationale
}

func (f *fakePermissions) Request(_ PermissionKind, done func(bool)) {
	f.mu.Lock()
	f.requests++
	answer := f.answer
	if answer == nil {
		f.pending = append(f.pending, done)
		f.mu.Unlock()
		return
	}
	if *answer {
		f.granted = true
		f.rationale = false
	}
	f.mu.Unlock()
	go done(*answer)
}

func (f *fakePermissions) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type fakeGrant struct {
	id       string
	releases atomic.Int32
}

func (g *fakeGrant) ID() string { return g.id }
func (g *fakeGrant) Release()   { g.releases.Add(1) }

// fakeGrants answers LaunchForResult with result when auto is true,
// otherwise parks the callback.
type fakeGrants struct {
	mu       sync.Mutex
	auto     bool
	result   ResultCode
	launches int
	pending  []func(ResultCode, any)
	issued   []*fakeGrant
}

func (f *fakeGrants) CreateCaptureIntent() Intent { return "playback" }

func (f *fakeGrants) LaunchForResult(_ Intent, done func(ResultCode, any)) {
	f.mu.Lock()
	f.launches++
	if !f.auto {
		f.pending = append(f.pending, done)
		f.mu.Unlock()
		return
	}
	result := f.result
	f.mu.Unlock()
	go done(result, nil)
}

func (f *fakeGrants) TokenFrom(code ResultCode, _ any) Grant {
	if code != ResultOK {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &fakeGrant{id: "grant"}
	f.issued = append(f.issued, g)
	return g
}

func (f *fakeGrants) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func (f *fakeGrants) deliver(code ResultCode) {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, done := range pending {
		done(code, nil)
	}
}

func (f *fakeGrants) issuedGrants() []*fakeGrant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeGrant(nil), f.issued...)
}

// fakePresenter acknowledges alerts on its own goroutine when autoAck is
// set.
type fakePresenter struct {
	mu      sync.Mutex
	autoAck bool
	alerts  []string
	toasts  []string
	acks    []func()
}

func (f *fakePresenter) Alert(title, message string, ok func()) {
	f.mu.Lock()
	f.alerts = append(f.alerts, message)
	auto := f.autoAck
	if !auto {
		f.acks = append(f.acks, ok)
	}
	f.mu.Unlock()
	if auto {
		go ok()
	}
}

func (f *fakePresenter) Toast(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, message)
}

func (f *fakePresenter) hasToast(msg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.toasts {
		if t == msg {
			return true
		}
	}
	return false
}

func (f *fakePresenter) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakePrefs struct {
	mu     sync.Mutex
	values map[string]string
	puts   int
}

func (f *fakePrefs) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *fakePrefs) Put(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
	f.puts++
	return nil
}

// recorder collects listener notifications.
type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) listen(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, running)
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func (r *recorder) count(v bool) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == v {
			n++
		}
	}
	return n
}

var errLookup = errors.New("no such host")

func staticLookup(addrs ...string) LookupFunc {
	return func(context.Context, string) ([]string, error) {
		return addrs, nil
	}
}

func failingLookup(context.Context, string) ([]string, error) {
	return nil, errLookup
}

type harness struct {
	c         *Controller
	transport *fakeTransport
	perms     *fakePermissions
	grants    *fakeGrants
	presenter *fakePresenter
	prefs     *fakePrefs
	rec       *recorder
	input     atomic.Value
}

func newHarness(t *testing.T, lookup LookupFunc) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		perms:     &fakePermissions{granted: true},
		grants:    &fakeGrants{auto: true, result: ResultOK},
		presenter: &fakePresenter{},
		prefs:     &fakePrefs{},
		rec:       &recorder{},
	}
	h.input.Store("239.1.1.1")
	h.c = NewController(Options{
		Transport:        h.transport,
		Permissions:      h.perms,
		CaptureGrants:    h.grants,
		Resolver:         NewResolver(lookup),
		Selector:         NewSelector(Microphone),
		Preferences:      h.prefs,
		Presenter:        h.presenter,
		DestinationInput: func() string { return h.input.Load().(string) },
	})
	h.c.SetStateListener(h.rec.listen)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.c.Close(ctx)
	})
	return h
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.c.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool {
		h.sync(t)
		return h.c.State() == want
	})
}
