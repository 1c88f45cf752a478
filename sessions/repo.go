package sessions

// Store is durable storage for the single session record. Get returns
// (nil, nil) when nothing is stored. Set and Clear are atomic: a reader never
// observes a partially written session.
type Store interface {
	Get() (*Session, error)
	Set(session *Session) error
	Clear() error
}
