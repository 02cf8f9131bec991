package domain

// CaptureField names a datum a transition edge records on its event.
type CaptureField string

// Capture fields.
const (
	CaptureWeight CaptureField = "weight"
)

// Edge identifies one transition of the yard graph.
type Edge struct {
	From State
	To   State
}

// CapturePolicy maps transition edges to the fields recorded when they fire.
type CapturePolicy map[Edge][]CaptureField

// DefaultCapturePolicy records the load weight when loading finishes.
func DefaultCapturePolicy() CapturePolicy {
	return CapturePolicy{
		{From: StateLoading, To: StateReadyToDepart}: {CaptureWeight},
	}
}

// Captures reports whether the edge from -> to records field.
func (p CapturePolicy) Captures(from, to State, field CaptureField) bool {
	for _, candidate := range p[Edge{From: from, To: to}] {
		if candidate == field {
			return true
		}
	}
	return false
}
