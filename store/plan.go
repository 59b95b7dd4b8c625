package store

// PlanRecord is the durable form of an execution plan. Payload holds the
// full plan serialized as JSON; the indexed columns exist for lookups and
// cleanup.
type PlanRecord struct {
	ID        string
	ActionID  string
	SessionID string
	Status    string
	Payload   []byte

	CreatedTs int64
	UpdatedTs int64
	ExpireTs  int64
}
