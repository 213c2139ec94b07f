package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"join-sentinel/internal/models"
)

func TestState_SessionRoundTrip(t *testing.T) {
	state := NewState(NewMemory(), nil)
	ctx := context.Background()

	sess := models.HostSession{UserID: "u1", Token: "host-token", Email: "user@example.com"}
	if err := state.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := state.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != sess {
		t.Errorf("got %+v, want %+v", got, sess)
	}

	if err := state.ClearSession(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := state.LoadSession(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestState_SessionEncryptedAtRest(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	kv := NewMemory()
	state := NewState(kv, key)
	ctx := context.Background()

	sess := models.HostSession{UserID: "u1", Token: "very-secret-host-token", Email: "user@example.com"}
	if err := state.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// o valor no store não pode conter o token em claro
	raw, err := kv.Get(ctx, keySession)
	if err != nil {
		t.Fatalf("raw get failed: %v", err)
	}
	if bytes.Contains(raw, []byte("very-secret-host-token")) {
		t.Error("session token stored in plaintext despite encryption key")
	}

	got, err := state.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != sess {
		t.Errorf("got %+v, want %+v", got, sess)
	}
}

func TestState_SubscriptionRoundTrip(t *testing.T) {
	state := NewState(NewMemory(), nil)
	ctx := context.Background()

	expiry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	sub := models.SubscriptionState{Tier: models.TierPro, IsSubscribed: true, ExpiryInstant: &expiry}
	if err := state.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := state.LoadSubscription(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Tier != sub.Tier || got.IsSubscribed != sub.IsSubscribed {
		t.Errorf("got %+v, want %+v", got, sub)
	}
	if got.ExpiryInstant == nil || !got.ExpiryInstant.Equal(expiry) {
		t.Errorf("expiry instant lost in round trip: %v", got.ExpiryInstant)
	}
}

func TestState_EventsPerUserAndFilter(t *testing.T) {
	state := NewState(NewMemory(), nil)
	ctx := context.Background()

	all := []models.Event{{ID: "e2", Description: "alice joined"}, {ID: "e1", Description: "bob joined"}}
	filtered := []models.Event{{ID: "f1", Description: "carol joined"}}

	if err := state.SaveEvents(ctx, "u1", "", all); err != nil {
		t.Fatal(err)
	}
	if err := state.SaveEvents(ctx, "u1", "acct-1", filtered); err != nil {
		t.Fatal(err)
	}

	got, err := state.LoadEvents(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "e2" {
		t.Errorf("unexpected unfiltered set %v", got)
	}

	got, err = state.LoadEvents(ctx, "u1", "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("unexpected filtered set %v", got)
	}

	// outro usuário não enxerga nada
	if _, err := state.LoadEvents(ctx, "u2", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user, got %v", err)
	}
}

func TestMemoryStore_DefensiveCopies(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	value := []byte("original")
	if err := kv.Set(ctx, "k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X'

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Errorf("store must not alias caller buffers, got %q", got)
	}
}
