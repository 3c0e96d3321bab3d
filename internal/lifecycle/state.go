package lifecycle

import "fmt"

// State is the startup phase of the node. States only move forward, in
// declaration order.
type State int

const (
	PreparingStorage State = iota
	PreparingBlock0
	Bootstrapping
	StartingWorkers
	Running
)

var stateNames = [...]string{
	PreparingStorage: "PreparingStorage",
	PreparingBlock0:  "PreparingBlock0",
	Bootstrapping:    "Bootstrapping",
	StartingWorkers:  "StartingWorkers",
	Running:          "Running",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
