package internal

// ContextKey are the keys the library stores on a context.Context
type ContextKey uint8

const (
	// LoggerKey for the log entry in the context
	LoggerKey ContextKey = iota
	// PublisherKey for the event bus in the context
	PublisherKey
	// CallIDKey for the id of the running operation call
	CallIDKey
	// TxScopeKey for the open transaction scope of the sql models plugin
	TxScopeKey
)
