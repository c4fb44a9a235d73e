package sender

// Transport is the streaming engine that encodes and sends audio once a
// session is running.
type Transport interface {
	// PreStart prepares a foreground capture context. It must be called
	// before a system-playback capture grant is requested.
	PreStart()
	// Start begins streaming to dest. grant is nil for microphone sessions.
	Start(dest Destination, grant Grant) error
	Stop()
	IsRunning() bool
}

// PermissionKind names a platform permission.
type PermissionKind string

const RecordAudio PermissionKind = "record_audio"

// Permissions is the platform permission subsystem.
type Permissions interface {
	Check(kind PermissionKind) bool
	ShouldShowRationale(kind PermissionKind) bool
	// Request asks for kind and reports the outcome on an arbitrary goroutine.
	Request(kind PermissionKind, done func(granted bool))
}

// ResultCode is the outcome code of a platform capture-grant prompt.
type ResultCode int

const (
	ResultCanceled ResultCode = iota
	ResultOK
)

// Intent is an opaque request for a capture grant.
type Intent any

// Grant is the one-time authorization to capture system playback. Release
// must be safe to call more than once.
type Grant interface {
	ID() string
	Release()
}

// CaptureGrants is the platform capture-grant subsystem.
type CaptureGrants interface {
	CreateCaptureIntent() Intent
	// LaunchForResult shows the grant prompt and reports its result on an
	// arbitrary goroutine.
	LaunchForResult(intent Intent, done func(code ResultCode, data any))
	// TokenFrom turns a prompt result into a Grant, or nil when the prompt
	// was cancelled.
	TokenFrom(code ResultCode, data any) Grant
}

// Preferences is the durable key/value store for user settings.
type Preferences interface {
	Get(key string) (string, bool)
	Put(key, value string) error
}

// Preference keys written after a successful start.
const (
	PrefReceiverAddress = "receiver_ip"
	PrefPlaybackCapture = "playback_capture"
)

// Presenter is the user-visible surface: blocking-free alerts with a single
// acknowledgement button, and transient messages.
type Presenter interface {
	// Alert shows a non-cancelable dialog and calls ok once the user
	// acknowledges it. It must not block the caller.
	Alert(title, message string, ok func())
	Toast(message string)
}

// StateListener observes the Idle/Running boundary.
type StateListener func(running bool)

type nopPresenter struct{}

func (nopPresenter) Alert(string, string, func()) {}
func (nopPresenter) Toast(string)                 {}
