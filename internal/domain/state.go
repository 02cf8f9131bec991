package domain

import (
	"fmt"
	"strings"
)

// State represents one of the fixed yard states a vehicle moves through.
type State string

// Canonical yard states. The values are persisted and exposed on the wire.
const (
	StateAtYard        State = "at_yard"
	StateLoading       State = "loading"
	StateReadyToDepart State = "ready_to_depart"
	StateDeparted      State = "departed"
)

// cycleOrder is the fixed trip order; the successor of the last entry is the first.
var cycleOrder = [...]State{StateAtYard, StateLoading, StateReadyToDepart, StateDeparted}

// stateAliases maps accepted input spellings onto canonical states.
var stateAliases = map[string]State{
	"at_yard":         StateAtYard,
	"atyard":          StateAtYard,
	"at-yard":         StateAtYard,
	"yard":            StateAtYard,
	"на территории":   StateAtYard,
	"loading":         StateLoading,
	"отгружается":     StateLoading,
	"ready_to_depart": StateReadyToDepart,
	"readytodepart":   StateReadyToDepart,
	"ready-to-depart": StateReadyToDepart,
	"ready":           StateReadyToDepart,
	"готов к выезду":  StateReadyToDepart,
	"departed":        StateDeparted,
	"выехал":          StateDeparted,
}

var stateLabels = map[State]string{
	StateAtYard:        "At yard",
	StateLoading:       "Loading",
	StateReadyToDepart: "Ready to depart",
	StateDeparted:      "Departed",
}

// States returns the yard states in trip order.
func States() []State {
	return append([]State(nil), cycleOrder[:]...)
}

// ParseState normalizes a raw state name into a canonical state.
func ParseState(raw string) (State, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if state, ok := stateAliases[key]; ok {
		return state, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
}

// Valid reports whether the state is one of the canonical yard states.
func (s State) Valid() bool {
	_, ok := stateLabels[s]
	return ok
}

// Label returns the human-readable name of the state.
func (s State) Label() string {
	if label, ok := stateLabels[s]; ok {
		return label
	}
	return string(s)
}

// Index returns the position of the state in trip order, or -1.
func (s State) Index() int {
	for i, candidate := range cycleOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Successor returns the only state reachable from s.
func (s State) Successor() State {
	idx := s.Index()
	if idx < 0 {
		return ""
	}
	return cycleOrder[(idx+1)%len(cycleOrder)]
}

// CanTransition reports whether from -> to is an edge of the yard graph.
func CanTransition(from, to State) bool {
	return from.Valid() && to.Valid() && from.Successor() == to
}

// StartsNewCycle reports whether entering to from from begins a new trip cycle.
func StartsNewCycle(from, to State) bool {
	return from == StateDeparted && to == StateAtYard
}

// CascadePath returns the successive states visited when walking from s back to AtYard.
// The path always ends with AtYard and never includes s itself.
func CascadePath(s State) []State {
	if !s.Valid() {
		return nil
	}
	out := make([]State, 0, len(cycleOrder))
	next := s.Successor()
	for {
		out = append(out, next)
		if next == StateAtYard {
			return out
		}
		next = next.Successor()
	}
}
