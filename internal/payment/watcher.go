// Package payment acompanha o checkout externo. A detecção de sucesso por URL
// é só um palpite; quem decide acesso é sempre o refresh de perfil.
package payment

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"join-sentinel/internal/models"
	"join-sentinel/internal/reconcile"
)

// LooksLikeSuccess reporta se a URL navegada sugere um checkout concluído.
// Advisory only: there is no signature or verification on this URL, so the
// caller must always re-confirm entitlement via the authoritative profile
// refresh before unlocking anything.
func LooksLikeSuccess(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "success") || strings.Contains(lower, "callback")
}

// confirmDelay dá tempo ao provedor de liquidar o webhook antes do refresh.
const confirmDelay = 2 * time.Second

// Watcher observa as navegações da página de checkout e, ao detectar o
// padrão de sucesso, dispara uma única reconfirmação autoritativa.
type Watcher struct {
	log        *slog.Logger
	reconciler *reconcile.Reconciler

	mu        sync.Mutex
	confirmed bool
}

func NewWatcher(log *slog.Logger, reconciler *reconcile.Reconciler) *Watcher {
	return &Watcher{log: log, reconciler: reconciler}
}

// Reset rearma a detecção; chamado quando um novo checkout começa.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.confirmed = false
	w.mu.Unlock()
}

// OnNavigation é alimentado pelo host com cada URL da página de checkout.
// Retorna true quando o fluxo deve ser considerado encerrado.
func (w *Watcher) OnNavigation(ctx context.Context, url string) bool {
	if !LooksLikeSuccess(url) {
		return false
	}

	w.mu.Lock()
	if w.confirmed {
		w.mu.Unlock()
		return true
	}
	w.confirmed = true
	w.mu.Unlock()

	w.log.Info("checkout_success_detected", "advisory", true)

	go func() {
		select {
		case <-time.After(confirmDelay):
		case <-ctx.Done():
			return
		}
		sub, err := w.reconciler.RefreshSubscription(ctx)
		if err != nil {
			w.log.Warn("post_checkout_refresh_failed", "error", err)
			return
		}
		if sub.IsSubscribed && sub.Tier != models.TierNone {
			w.log.Info("subscription_confirmed", "tier", sub.Tier)
		} else {
			// a URL mentiu ou o webhook ainda não liquidou; o acesso continua
			// bloqueado até o perfil confirmar
			w.log.Warn("checkout_url_not_confirmed_by_profile")
		}
	}()

	return true
}
