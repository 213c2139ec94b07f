package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"join-sentinel/internal/models"
	"join-sentinel/internal/notify"
	"join-sentinel/internal/reconcile"
	"join-sentinel/internal/store"
)

type countingAPI struct {
	mu           sync.Mutex
	profileCalls int
}

func (f *countingAPI) Events(context.Context, models.HostSession, string) ([]models.Event, error) {
	return nil, nil
}

func (f *countingAPI) Profile(context.Context, models.HostSession) (models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	return models.Profile{UserID: "u1", Tier: models.TierPro, IsSubscribed: true}, nil
}

func newTestWatcher() (*Watcher, *countingAPI) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &countingAPI{}
	rec := reconcile.New(log, api, store.NewState(store.NewMemory(), nil), notify.Func(func(string, string) {}), reconcile.Options{})
	return NewWatcher(log, rec), api
}

func TestWatcher_IgnoresOrdinaryNavigation(t *testing.T) {
	w, _ := newTestWatcher()

	if w.OnNavigation(context.Background(), "https://pay.example.com/checkout") {
		t.Error("ordinary checkout page must not end the flow")
	}
}

func TestWatcher_SuccessIsOneShot(t *testing.T) {
	w, _ := newTestWatcher()

	// contexto cancelado segura a goroutine de reconfirmação; aqui o que
	// interessa é o latch
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !w.OnNavigation(ctx, "https://pay.example.com/success") {
		t.Fatal("success URL must end the flow")
	}
	if !w.OnNavigation(ctx, "https://pay.example.com/callback") {
		t.Error("repeated success URLs still report the flow as ended")
	}

	w.mu.Lock()
	confirmed := w.confirmed
	w.mu.Unlock()
	if !confirmed {
		t.Error("expected the latch to be set")
	}
}

func TestWatcher_ResetRearms(t *testing.T) {
	w, _ := newTestWatcher()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.OnNavigation(ctx, "https://pay.example.com/success")
	w.Reset()

	w.mu.Lock()
	confirmed := w.confirmed
	w.mu.Unlock()
	if confirmed {
		t.Error("expected a rearmed watcher after Reset")
	}
}
