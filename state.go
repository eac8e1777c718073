package mssqlfixture

// State is the lifecycle state of a Fixture. Transitions only move forward:
//
//	Created -> Provisioning -> Ready -> Disposed
//	Created/Provisioning -> Failed -> Disposed
type State int

const (
	StateCreated State = iota
	StateProvisioning
	StateReady
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}
