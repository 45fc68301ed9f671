package bot

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func openRound(t *testing.T, repo *InMemoryRepository, id ConversationID, url string, offers ...Offer) {
	t.Helper()
	if err := repo.BeginProbe(id); err != nil {
		t.Fatalf("BeginProbe: %v", err)
	}
	repo.CompleteProbe(id, url, offers)
}

func TestInMemoryRepository_round_lifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	id := ConversationID("c1")

	if got := repo.State(id); got != StateAwaitingURL {
		t.Fatalf("initial state = %s", got)
	}

	if err := repo.BeginProbe(id); err != nil {
		t.Fatalf("BeginProbe: %v", err)
	}
	if got := repo.State(id); got != StateBusy {
		t.Errorf("probing state = %s, want busy", got)
	}

	repo.CompleteProbe(id, "https://v/1", []Offer{{Token: 1, VideoID: "135", AudioID: "140"}})
	if got := repo.State(id); got != StateAwaitingSelection {
		t.Errorf("state after offers = %s", got)
	}

	url, offer, err := repo.Claim(id, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if url != "https://v/1" || offer.FormatSpec() != "135+140" {
		t.Errorf("Claim returned %q %+v", url, offer)
	}
	if got := repo.State(id); got != StateBusy {
		t.Errorf("state while retrieving = %s", got)
	}

	repo.Release(id)
	if got := repo.State(id); got != StateAwaitingURL {
		t.Errorf("state after release = %s", got)
	}
	if _, _, err := repo.Claim(id, 1); !errors.Is(err, ErrNoSession) {
		t.Errorf("token must not survive a finished round, got %v", err)
	}
}

func TestInMemoryRepository_empty_round_stays_awaiting_url(t *testing.T) {
	repo := NewInMemoryRepository()
	openRound(t, repo, "c1", "https://v/1")

	if got := repo.State("c1"); got != StateAwaitingURL {
		t.Errorf("state = %s, want awaiting_url", got)
	}
	if n := repo.ActiveSessionCount(); n != 0 {
		t.Errorf("no mapping should be stored, active = %d", n)
	}
}

func TestInMemoryRepository_unknown_token_keeps_mapping(t *testing.T) {
	repo := NewInMemoryRepository()
	openRound(t, repo, "c1", "https://v/1", Offer{Token: 1, VideoID: "18"})

	for _, token := range []int{2, 0, -1} {
		if _, _, err := repo.Claim("c1", token); !errors.Is(err, ErrUnknownToken) {
			t.Errorf("token %d: expected ErrUnknownToken, got %v", token, err)
		}
	}
	if got := repo.State("c1"); got != StateAwaitingSelection {
		t.Errorf("state = %s, want awaiting_selection", got)
	}
	if _, offer, err := repo.Claim("c1", 1); err != nil || offer.VideoID != "18" {
		t.Errorf("mapping must be unchanged after rejections: %+v %v", offer, err)
	}
}

func TestInMemoryRepository_new_url_replaces_round(t *testing.T) {
	repo := NewInMemoryRepository()
	openRound(t, repo, "c1", "https://v/1", Offer{Token: 1, VideoID: "a"}, Offer{Token: 2, VideoID: "b"})
	openRound(t, repo, "c1", "https://v/2", Offer{Token: 1, VideoID: "c"})

	if _, _, err := repo.Claim("c1", 2); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("token from the previous round must be rejected, got %v", err)
	}
	url, offer, err := repo.Claim("c1", 1)
	if err != nil || url != "https://v/2" || offer.VideoID != "c" {
		t.Errorf("expected offer of the new round, got %q %+v %v", url, offer, err)
	}
}

func TestInMemoryRepository_busy_rejects(t *testing.T) {
	repo := NewInMemoryRepository()
	openRound(t, repo, "c1", "https://v/1", Offer{Token: 1, VideoID: "a"})
	if _, _, err := repo.Claim("c1", 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := repo.BeginProbe("c1"); !errors.Is(err, ErrBusy) {
		t.Errorf("new URL while busy: expected ErrBusy, got %v", err)
	}
	if _, _, err := repo.Claim("c1", 1); !errors.Is(err, ErrBusy) {
		t.Errorf("selection while busy: expected ErrBusy, got %v", err)
	}
	if err := repo.BeginProbe("c2"); err != nil {
		t.Errorf("other conversations are unaffected: %v", err)
	}
}

func TestInMemoryRepository_ActiveSessionCount(t *testing.T) {
	repo := NewInMemoryRepository()
	openRound(t, repo, "c1", "u", Offer{Token: 1})
	openRound(t, repo, "c2", "u")
	_ = repo.BeginProbe("c3")

	if n := repo.ActiveSessionCount(); n != 2 {
		t.Errorf("expected 2 active sessions, got %d", n)
	}
}

func TestInMemoryRepository_concurrent_conversations(t *testing.T) {
	repo := NewInMemoryRepository()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id ConversationID) {
			defer wg.Done()
			if err := repo.BeginProbe(id); err != nil {
				t.Errorf("BeginProbe(%s): %v", id, err)
				return
			}
			repo.CompleteProbe(id, "u", []Offer{{Token: 1}})
			if _, _, err := repo.Claim(id, 1); err != nil {
				t.Errorf("Claim(%s): %v", id, err)
			}
			repo.Release(id)
		}(ConversationID(fmt.Sprintf("c%d", i)))
	}
	wg.Wait()

	if n := repo.ActiveSessionCount(); n != 0 {
		t.Errorf("all rounds finished, active = %d", n)
	}
}

func TestInMemoryRepository_single_claim_wins(t *testing.T) {
	repo := NewInMemoryRepository()
	openRound(t, repo, "c1", "u", Offer{Token: 1})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := repo.Claim("c1", 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly one concurrent claim may start a retrieval, got %d", wins)
	}
}
