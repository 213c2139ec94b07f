package store

import (
	"context"
	"encoding/json"
	"fmt"

	"join-sentinel/internal/models"
	"join-sentinel/internal/security"
)

const (
	keySession      = "host_session"
	keySubscription = "subscription"
)

// State são os acessores tipados sobre o Store. A sessão do host é cifrada
// em repouso quando uma chave foi configurada; o restante é JSON puro.
type State struct {
	kv  Store
	key []byte // nil = persist session in plaintext (key not configured)
}

func NewState(kv Store, encryptionKey []byte) *State {
	return &State{kv: kv, key: encryptionKey}
}

func (s *State) SaveSession(ctx context.Context, sess models.HostSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if s.key != nil {
		sealed, err := security.Encrypt(raw, s.key)
		if err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
		raw = []byte(sealed)
	}
	return s.kv.Set(ctx, keySession, raw)
}

func (s *State) LoadSession(ctx context.Context) (models.HostSession, error) {
	raw, err := s.kv.Get(ctx, keySession)
	if err != nil {
		return models.HostSession{}, err
	}
	if s.key != nil {
		plain, err := security.Decrypt(string(raw), s.key)
		if err != nil {
			return models.HostSession{}, fmt.Errorf("unseal session: %w", err)
		}
		raw = plain
	}
	var sess models.HostSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return models.HostSession{}, err
	}
	return sess, nil
}

func (s *State) ClearSession(ctx context.Context) error {
	return s.kv.Delete(ctx, keySession)
}

func (s *State) SaveSubscription(ctx context.Context, sub models.SubscriptionState) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keySubscription, raw)
}

func (s *State) LoadSubscription(ctx context.Context) (models.SubscriptionState, error) {
	raw, err := s.kv.Get(ctx, keySubscription)
	if err != nil {
		return models.SubscriptionState{}, err
	}
	var sub models.SubscriptionState
	if err := json.Unmarshal(raw, &sub); err != nil {
		return models.SubscriptionState{}, err
	}
	return sub, nil
}

// eventsKey: um conjunto de eventos por usuário e por filtro de conta.
func eventsKey(userID, filter string) string {
	if filter == "" {
		filter = "all"
	}
	return fmt.Sprintf("cached_events:%s:%s", userID, filter)
}

// SaveEvents replaces the cached set for the (user, filter) pair. Never
// merged with previous contents.
func (s *State) SaveEvents(ctx context.Context, userID, filter string, events []models.Event) error {
	raw, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, eventsKey(userID, filter), raw)
}

func (s *State) LoadEvents(ctx context.Context, userID, filter string) ([]models.Event, error) {
	raw, err := s.kv.Get(ctx, eventsKey(userID, filter))
	if err != nil {
		return nil, err
	}
	var events []models.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}
