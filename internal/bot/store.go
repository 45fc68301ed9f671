package bot

// Store is the persistence abstraction for conversation sessions.
// The Repository uses Store for all reads and writes and serializes access,
// so implementations need no locking of their own. The in-memory store loses
// every session on restart; a durable Store can be swapped in without
// touching the pipeline.
type Store interface {
	GetSession(id ConversationID) (*Session, bool)
	SetSession(s *Session)
	DeleteSession(id ConversationID)
	ListSessionIDs() []ConversationID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[ConversationID]*Session
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[ConversationID]*Session),
	}
}

// GetSession implements Store.GetSession.
func (s *InMemoryStore) GetSession(id ConversationID) (*Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

// SetSession implements Store.SetSession.
func (s *InMemoryStore) SetSession(sess *Session) {
	s.sessions[sess.ID] = sess
}

// DeleteSession implements Store.DeleteSession.
func (s *InMemoryStore) DeleteSession(id ConversationID) {
	delete(s.sessions, id)
}

// ListSessionIDs implements Store.ListSessionIDs.
func (s *InMemoryStore) ListSessionIDs() []ConversationID {
	ids := make([]ConversationID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
