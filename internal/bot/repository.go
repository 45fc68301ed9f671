package bot

import (
	"sync"
)

// Repository defines the concurrency-safe contract for the conversation
// state machine. Every method is atomic with respect to one conversation.
type Repository interface {
	// BeginProbe moves the conversation to StateBusy before its catalog is
	// probed. Offers of a pending round are discarded: a new URL starts a
	// fresh round. Returns ErrBusy if a probe or retrieval is in flight.
	BeginProbe(id ConversationID) error

	// CompleteProbe ends a probe started by BeginProbe. With at least one
	// offer the conversation moves to StateAwaitingSelection and the offers
	// become the token mapping; otherwise it returns to StateAwaitingURL.
	CompleteProbe(id ConversationID, url string, offers []Offer)

	// Claim validates token against the current round and moves the
	// conversation to StateBusy for retrieval. The mapping is left untouched
	// when the token is rejected.
	Claim(id ConversationID, token int) (url string, offer Offer, err error)

	// Release returns the conversation to StateAwaitingURL and forgets its round.
	Release(id ConversationID)

	// State reports the state of a conversation; unknown conversations are
	// in StateAwaitingURL.
	State(id ConversationID) SessionState

	// ActiveSessionCount returns the number of conversations that are not
	// awaiting a URL. Used for metrics.
	ActiveSessionCount() int
}

// InMemoryRepository is a concurrency-safe implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// BeginProbe implements Repository.BeginProbe.
func (r *InMemoryRepository) BeginProbe(id ConversationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.getOrCreateLocked(id)
	if sess.State == StateBusy {
		return ErrBusy
	}
	sess.State = StateBusy
	sess.URL = ""
	sess.Offers = nil
	return nil
}

// CompleteProbe implements Repository.CompleteProbe.
func (r *InMemoryRepository) CompleteProbe(id ConversationID, url string, offers []Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(offers) == 0 {
		r.store.DeleteSession(id)
		return
	}

	mapping := make(map[int]Offer, len(offers))
	for _, o := range offers {
		mapping[o.Token] = o
	}
	sess := r.getOrCreateLocked(id)
	sess.State = StateAwaitingSelection
	sess.URL = url
	sess.Offers = mapping
}

// Claim implements Repository.Claim.
func (r *InMemoryRepository) Claim(id ConversationID, token int) (string, Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.store.GetSession(id)
	if !ok {
		return "", Offer{}, ErrNoSession
	}
	switch sess.State {
	case StateBusy:
		return "", Offer{}, ErrBusy
	case StateAwaitingSelection:
	default:
		return "", Offer{}, ErrNoSession
	}

	offer, ok := sess.Offers[token]
	if !ok {
		return "", Offer{}, ErrUnknownToken
	}
	sess.State = StateBusy
	return sess.URL, offer, nil
}

// Release implements Repository.Release.
func (r *InMemoryRepository) Release(id ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Sessions awaiting a URL carry no data, so they are simply dropped.
	r.store.DeleteSession(id)
}

// State implements Repository.State.
func (r *InMemoryRepository) State(id ConversationID) SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sess, ok := r.store.GetSession(id); ok {
		return sess.State
	}
	return StateAwaitingURL
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListSessionIDs() {
		if sess, ok := r.store.GetSession(id); ok && sess.State != StateAwaitingURL {
			n++
		}
	}
	return n
}

// getOrCreateLocked returns an existing session or creates a new one.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) getOrCreateLocked(id ConversationID) *Session {
	if sess, ok := r.store.GetSession(id); ok {
		return sess
	}

	sess := &Session{ID: id, State: StateAwaitingURL}
	r.store.SetSession(sess)
	return sess
}
