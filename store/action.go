package store

// ActionRecord is the durable form of an action definition. Definition holds
// the catalog entry serialized as JSON.
type ActionRecord struct {
	ID         string
	Name       string
	Definition []byte
	Enabled    bool
	UpdatedTs  int64
}

// FindActionRecord filters action listing.
type FindActionRecord struct {
	ID      *string
	Enabled *bool
}

// ActionEmbedding is the vector for one action's descriptive text, used by
// semantic matching.
type ActionEmbedding struct {
	ActionID  string
	Model     string
	Embedding []float32
	UpdatedTs int64
}

// ActionDistance is one vector-search hit: smaller distance means closer.
type ActionDistance struct {
	ActionID string
	Distance float64
}
