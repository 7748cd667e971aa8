package shared

// LifecycleState is the explicit lifecycle of catalog entities. It replaces
// the implicit active boolean: an archived row stays queryable for history
// but rejects new operational references.
type LifecycleState string

const (
	LifecycleActive   LifecycleState = "ACTIVE"
	LifecycleArchived LifecycleState = "ARCHIVED"
)

// Valid reports whether the state is a known lifecycle value.
func (s LifecycleState) Valid() bool {
	return s == LifecycleActive || s == LifecycleArchived
}
