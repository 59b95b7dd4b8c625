package store

// ParamSession is the durable form of a parameter collection session.
// Collected and Missing are serialized by the driver.
type ParamSession struct {
	ID         string
	UserID     int32
	ActionID   string
	ActionName string
	State      string

	Collected map[string]any
	Missing   []string

	NextQuestion  string
	AwaitingInput bool

	CreatedTs int64
	UpdatedTs int64
}
