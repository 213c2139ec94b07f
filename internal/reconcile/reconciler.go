// Package reconcile mantém a visão local best-effort do estado remoto:
// eventos, assinatura e o cursor de novidade que decide quando alertar.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"join-sentinel/internal/backend"
	"join-sentinel/internal/models"
	"join-sentinel/internal/notify"
	"join-sentinel/internal/store"
)

// maxFilterCaches bounds the in-memory mirror; one slot per account filter
// plus the unfiltered view is far below this in practice.
const maxFilterCaches = 16

// API é o recorte do cliente de backend que o reconciler usa.
type API interface {
	Events(ctx context.Context, sess models.HostSession, accountFilter string) ([]models.Event, error)
	Profile(ctx context.Context, sess models.HostSession) (models.Profile, error)
}

type Options struct {
	PollInterval time.Duration
	FetchTimeout time.Duration
	SweepEvery   time.Duration
	Now          func() time.Time // relógio injetável; testes de expiração dependem dele
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 8 * time.Second
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Reconciler struct {
	log      *slog.Logger
	api      API
	state    *store.State
	notifier notify.Notifier
	opts     Options

	mu          sync.Mutex
	sess        models.HostSession
	sub         models.SubscriptionState
	filter      string
	cursor      string // lastSeenEventId
	initialLoad bool   // primeiro fetch desde o foreground
	blocked     bool   // backend respondeu 402
	cache       *lru.Cache[string, []models.Event]
}

func New(log *slog.Logger, api API, state *store.State, notifier notify.Notifier, opts Options) *Reconciler {
	cache, _ := lru.New[string, []models.Event](maxFilterCaches)
	return &Reconciler{
		log:         log,
		api:         api,
		state:       state,
		notifier:    notifier,
		opts:        opts.withDefaults(),
		initialLoad: true,
		cache:       cache,
	}
}

// Restore carrega sessão, assinatura e cache persistidos. A ausência de
// qualquer um deles não é erro: o agente simplesmente parte do zero.
func (r *Reconciler) Restore(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, err := r.state.LoadSession(ctx); err == nil {
		r.sess = sess
	} else if !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("session_restore_failed", "error", err)
	}

	if sub, err := r.state.LoadSubscription(ctx); err == nil {
		r.sub = sub
	} else if !errors.Is(err, store.ErrNotFound) {
		r.log.Warn("subscription_restore_failed", "error", err)
	}

	if r.sess.UserID == "" {
		return
	}
	if events, err := r.state.LoadEvents(ctx, r.sess.UserID, r.filter); err == nil {
		r.cache.Add(r.filter, events)
		if len(events) > 0 {
			r.cursor = events[0].ID
		}
	}
}

// SetSession instala uma sessão de host autenticada e a persiste.
func (r *Reconciler) SetSession(ctx context.Context, sess models.HostSession) {
	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	if err := r.state.SaveSession(ctx, sess); err != nil {
		r.log.Warn("session_persist_failed", "error", err)
	}
}

// ClearSession derruba a sessão e o estado local (logout).
func (r *Reconciler) ClearSession(ctx context.Context) {
	r.mu.Lock()
	r.sess = models.HostSession{}
	r.sub = models.SubscriptionState{}
	r.cursor = ""
	r.blocked = false
	r.initialLoad = true
	r.cache.Purge()
	r.mu.Unlock()

	if err := r.state.ClearSession(ctx); err != nil {
		r.log.Warn("session_clear_failed", "error", err)
	}
}

// Session retorna a sessão corrente.
func (r *Reconciler) Session() models.HostSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// SetFilter troca o filtro de conta. O cursor é descartado: a lista filtrada
// tem outra ordenação de ids e o primeiro fetch adota o topo em silêncio.
func (r *Reconciler) SetFilter(ctx context.Context, filter string) {
	r.mu.Lock()
	r.filter = filter
	r.cursor = ""
	userID := r.sess.UserID
	r.mu.Unlock()

	if userID == "" {
		return
	}
	if events, err := r.state.LoadEvents(ctx, userID, filter); err == nil {
		r.mu.Lock()
		r.cache.Add(filter, events)
		if len(events) > 0 {
			r.cursor = events[0].ID
		}
		r.mu.Unlock()
	}
}

// OnForeground marca a transição de foreground: o próximo fetch adota o
// evento mais novo sem alertar, absorvendo o backlog acumulado em background.
func (r *Reconciler) OnForeground(ctx context.Context) {
	r.mu.Lock()
	r.initialLoad = true
	r.mu.Unlock()

	if _, err := r.FetchEvents(ctx); err != nil {
		r.log.Debug("foreground_fetch_failed", "error", err)
	}
}

// FetchEvents executa um ciclo de busca: chama o backend, aplica a regra de
// novidade e substitui o cache por inteiro. Nunca mescla com conteúdo antigo.
func (r *Reconciler) FetchEvents(ctx context.Context) ([]models.Event, error) {
	r.mu.Lock()
	sess := r.sess
	sub := r.sub
	filter := r.filter
	r.mu.Unlock()

	if sess.UserID == "" || sess.Token == "" {
		return nil, errors.New("not_authenticated")
	}

	// expiração local primeiro: o downgrade não depende de rede
	if IsExpiredAt(sub, r.opts.Now()) {
		r.downgradeExpired(ctx)
		return nil, errors.New("subscription_expired")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	events, err := r.api.Events(fetchCtx, sess, filter)
	if err != nil {
		if errors.Is(err, backend.ErrPaymentRequired) {
			// transição legítima, não erro: cache intacto, acesso bloqueado
			r.mu.Lock()
			r.blocked = true
			r.mu.Unlock()
			r.log.Info("events_blocked_payment_required")
			return nil, err
		}
		// falha branda: timeout, rede e não-2xx são tratados igual,
		// sem mutação de cache e sem alerta
		r.log.Debug("events_fetch_soft_failure", "error", err)
		return nil, err
	}

	var alertEvent *models.Event

	r.mu.Lock()
	r.blocked = false
	if len(events) > 0 {
		newest := events[0]
		switch {
		case r.initialLoad:
			// primeiro fetch pós-foreground: adota sem alertar
			r.cursor = newest.ID
			r.initialLoad = false
		case r.cursor == "":
			// primeira execução de verdade: adota em silêncio
			r.cursor = newest.ID
		case newest.ID != r.cursor:
			// no máximo um alerta por fetch, sempre para o mais novo
			alertEvent = &newest
			r.cursor = newest.ID
		}
	}
	r.cache.Add(filter, events)
	canNotify := sub.Tier != models.TierNone && sub.IsSubscribed
	r.mu.Unlock()

	if err := r.state.SaveEvents(ctx, sess.UserID, filter, events); err != nil {
		r.log.Warn("events_persist_failed", "error", err)
	}

	if alertEvent != nil && canNotify {
		r.notifier.Notify("New Member!", alertEvent.Description)
	}

	return events, nil
}

// RefreshSubscription consulta o perfil; o servidor é a autoridade e uma
// resposta bem-sucedida sobrescreve o estado local incondicionalmente.
func (r *Reconciler) RefreshSubscription(ctx context.Context) (models.SubscriptionState, error) {
	r.mu.Lock()
	sess := r.sess
	r.mu.Unlock()

	if sess.UserID == "" {
		return models.SubscriptionState{}, errors.New("not_authenticated")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	profile, err := r.api.Profile(fetchCtx, sess)
	if err != nil {
		// fail-open na exibição: estado local fica como está
		r.log.Warn("subscription_refresh_failed", "error", err)
		return r.Subscription(), err
	}

	sub := profile.Subscription()

	r.mu.Lock()
	r.sub = sub
	if !IsExpiredAt(sub, r.opts.Now()) {
		r.blocked = false
	}
	r.mu.Unlock()

	if err := r.state.SaveSubscription(ctx, sub); err != nil {
		r.log.Warn("subscription_persist_failed", "error", err)
	}

	r.log.Info("subscription_refreshed", "tier", sub.Tier, "is_subscribed", sub.IsSubscribed)
	return sub, nil
}

// Subscription retorna o snapshot local da assinatura.
func (r *Reconciler) Subscription() models.SubscriptionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

// Blocked reporta se o último fetch foi barrado por 402.
func (r *Reconciler) Blocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked
}

// Events retorna a última lista boa conhecida para o filtro corrente.
// Falhas de rede nunca limpam esta visão.
func (r *Reconciler) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if events, ok := r.cache.Get(r.filter); ok {
		out := make([]models.Event, len(events))
		copy(out, events)
		return out
	}
	return []models.Event{}
}

// Cursor expõe o cursor de novidade corrente.
func (r *Reconciler) Cursor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Filter retorna o filtro de conta corrente ("" para o feed geral).
func (r *Reconciler) Filter() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

// SweepExpiry reavalia a expiração contra o relógio local. O downgrade
// acontece offline: sem rede nenhuma, o acesso ainda é revogado na hora.
func (r *Reconciler) SweepExpiry(ctx context.Context) bool {
	r.mu.Lock()
	sub := r.sub
	r.mu.Unlock()

	if sub.Tier == models.TierNone && !sub.IsSubscribed {
		return false // já rebaixada
	}
	if !IsExpiredAt(sub, r.opts.Now()) {
		return false
	}

	r.downgradeExpired(ctx)
	return true
}

func (r *Reconciler) downgradeExpired(ctx context.Context) {
	r.mu.Lock()
	if r.sub.Tier == models.TierNone && !r.sub.IsSubscribed {
		r.mu.Unlock()
		return
	}
	r.sub.Tier = models.TierNone
	r.sub.IsSubscribed = false
	sub := r.sub
	r.mu.Unlock()

	if err := r.state.SaveSubscription(ctx, sub); err != nil {
		r.log.Warn("expiry_persist_failed", "error", err)
	}
	r.log.Info("subscription_expired_locally")
}

// Run é o laço do reconciler: polling de eventos enquanto a assinatura está
// ativa, varredura de expiração em paralelo, até o contexto encerrar.
// Um gatilho de foreground pode correr contra o ticker; as buscas não são
// de-duplicadas e a última resposta a chegar vence, por substituição integral.
func (r *Reconciler) Run(ctx context.Context) {
	// primeiro fetch quase imediato; os tickers cuidam do resto
	initial := time.NewTimer(100 * time.Millisecond)
	defer initial.Stop()

	poll := time.NewTicker(r.opts.PollInterval)
	defer poll.Stop()

	sweep := time.NewTicker(r.opts.SweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-initial.C:
			r.pollOnce(ctx)
		case <-poll.C:
			r.pollOnce(ctx)
		case <-sweep.C:
			if r.SweepExpiry(ctx) {
				r.log.Info("polling_suspended", "reason", "subscription_expired")
			}
		}
	}
}

func (r *Reconciler) pollOnce(ctx context.Context) {
	r.mu.Lock()
	sess := r.sess
	sub := r.sub
	blocked := r.blocked
	r.mu.Unlock()

	if sess.UserID == "" {
		return
	}
	// suspenso quando expirado ou bloqueado; um RefreshSubscription que prove
	// a assinatura ativa religa o laço
	if blocked || IsExpiredAt(sub, r.opts.Now()) {
		return
	}

	if _, err := r.FetchEvents(ctx); err != nil {
		// engolido de propósito: polling é contínuo e se cura sozinho
		return
	}
}
