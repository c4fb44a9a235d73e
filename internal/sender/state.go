package sender

import "encoding/json"

// State is the controller's session state. Only Idle and Running are
// reported to listeners; the other two exist to reject re-entrant starts.
type State int32

const (
	Idle State = iota
	AwaitingCapability
	Resolving
	Running
)

var stateNames = map[State]string{
	Idle:               "idle",
	AwaitingCapability: "awaiting_capability",
	Resolving:          "resolving",
	Running:            "running",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Transient reports whether s is one of the in-flight attempt states.
func (s State) Transient() bool {
	return s == AwaitingCapability || s == Resolving
}
