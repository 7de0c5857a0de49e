package session

import "fmt"

// State is the recording session state.
type State int

const (
	// StateIdle has no recorder and no virtual display.
	StateIdle State = iota
	// StatePrepared has a configured recorder bound to a virtual display.
	StatePrepared
	// StateRecording is writing the output file.
	StateRecording
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StatePrepared:  "prepared",
	StateRecording: "recording",
}

// StateNames lists every state name, for gauges and docs.
func StateNames() []string {
	return []string{"idle", "prepared", "recording"}
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown session state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st, n := range stateNames {
		if n == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
