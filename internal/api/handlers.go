package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"join-sentinel/internal/backend"
	"join-sentinel/internal/logging"
	"join-sentinel/internal/models"
	"join-sentinel/internal/payment"
	"join-sentinel/internal/reconcile"
)

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	capState := "idle"
	if s.session != nil {
		capState = s.session.State().String()
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"authenticated": s.rec.Session().Token != "",
		"blocked":       s.rec.Blocked(),
		"capture_state": capState,
	})
}

// ---- sessão do host ----

type sessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Token  string `json:"token" binding:"required"`
	Email  string `json:"email"`
}

func (s *Server) setSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "user_id e token sao obrigatorios"}})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	s.rec.SetSession(ctx, models.HostSession{UserID: req.UserID, Token: req.Token, Email: req.Email})
	s.rec.OnForeground(ctx)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) getSession(c *gin.Context) {
	sess := s.rec.Session()
	if sess.Token == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "no_session", "message": "nenhuma sessao ativa"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": sess.UserID,
		"email":   sess.Email,
		"token":   logging.MaskToken(sess.Token),
	})
}

func (s *Server) logout(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	// o logout remoto é cortesia; o estado local some de qualquer jeito
	if err := s.backend.Logout(ctx, s.rec.Session()); err != nil {
		s.log.Warn("remote_logout_failed", "error", err)
	}
	s.rec.ClearSession(ctx)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) foreground(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	s.rec.OnForeground(ctx)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- captura de token ----

func (s *Server) startCapture(c *gin.Context) {
	s.mu.Lock()
	if s.session != nil && !s.session.Done() {
		id := s.session.ID
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{
			"error":      gin.H{"code": "capture_in_progress", "message": "ja existe uma captura em andamento"},
			"session_id": id,
		})
		return
	}
	s.lastLinkErr = ""
	sess := s.engine.Begin(s.browser, nil, s.onCaptured)
	s.session = sess
	s.mu.Unlock()

	c.JSON(http.StatusAccepted, gin.H{"session_id": sess.ID, "state": sess.State().String()})
}

func (s *Server) cancelCapture(c *gin.Context) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess != nil {
		sess.Cancel()
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) captureState(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		c.JSON(http.StatusOK, gin.H{"state": "idle"})
		return
	}

	out := gin.H{
		"session_id": s.session.ID,
		"state":      s.session.State().String(),
		"done":       s.session.Done(),
	}
	if s.lastLinkErr != "" {
		out["link_error"] = s.lastLinkErr
	}
	c.JSON(http.StatusOK, out)
}

// onCaptured roda dentro do emit da sessão; o vínculo com o backend vai para
// uma goroutine para não segurar o latch.
func (s *Server) onCaptured(cred models.Credential) {
	go s.linkCaptured(cred)
}

func (s *Server) linkCaptured(cred models.Credential) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	acct, err := s.backend.LinkAccount(ctx, s.rec.Session(), cred)
	if err != nil {
		msg := "could not link your account, please try again"
		var le *backend.LinkError
		if errors.As(err, &le) && le.Message != "" {
			msg = le.Message
		}
		s.log.Warn("account_link_failed", "error", err)

		s.mu.Lock()
		s.lastLinkErr = msg
		s.mu.Unlock()

		// o browser fica aberto; a shell mostra o erro e o usuário tenta de novo
		s.notifier.Notify("Linking failed", msg)
		return
	}

	s.log.Info("account_linked", "external_id", acct.ExternalID, "display_name", acct.DisplayName)
	s.notifier.Notify("Account linked", "Your account "+acct.DisplayName+" is now being tracked")

	// puxa o feed já com a conta nova, sem alerta de novidade
	s.rec.OnForeground(ctx)
}

// ---- eventos do browser (fallback HTTP do bridge) ----

type browserEvent struct {
	URL     string `json:"url"`
	Payload string `json:"payload"`
}

func (s *Server) browserNavigation(c *gin.Context) {
	var req browserEvent
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "url e obrigatoria"}})
		return
	}
	s.OnNavigation(req.URL)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) browserLoadEnd(c *gin.Context) {
	var req browserEvent
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "url e obrigatoria"}})
		return
	}
	s.OnLoadEnd(req.URL)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) browserMessage(c *gin.Context) {
	var req browserEvent
	if err := c.ShouldBindJSON(&req); err != nil || req.Payload == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "payload e obrigatorio"}})
		return
	}
	s.OnMessage(req.Payload)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// OnNavigation fan-out: a sessão de captura e o watcher de pagamento olham
// a mesma URL, cada um decide sozinho se ela lhe diz respeito.
func (s *Server) OnNavigation(url string) {
	s.watcher.OnNavigation(context.Background(), url)

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		sess.OnNavigation(url)
	}
}

func (s *Server) OnLoadEnd(url string) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		sess.OnLoadEnd(url)
	}
}

func (s *Server) OnMessage(payload string) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		sess.OnMessage(payload)
	}
}

// ---- feed de eventos ----

func (s *Server) getFeed(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"events":       s.rec.Events(),
		"cursor":       s.rec.Cursor(),
		"blocked":      s.rec.Blocked(),
		"subscription": s.rec.Subscription(),
	})
}

func (s *Server) refreshFeed(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	events, err := s.rec.FetchEvents(ctx)
	if err != nil {
		if errors.Is(err, backend.ErrPaymentRequired) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": gin.H{"code": "subscription_required", "message": "assinatura expirada ou ausente"}})
			return
		}
		// falha mole: devolve o que tem em cache
		c.JSON(http.StatusOK, gin.H{"events": s.rec.Events(), "stale": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type filterRequest struct {
	DiscordID string `json:"discord_id"`
}

func (s *Server) setFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "corpo invalido"}})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	s.rec.SetFilter(ctx, strings.TrimSpace(req.DiscordID))
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": s.rec.Events()})
}

// ---- contas vinculadas ----

func (s *Server) listAccounts(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	accounts, err := s.backend.Accounts(ctx, s.rec.Session())
	if err != nil {
		s.log.Warn("accounts_fetch_failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "backend_error", "message": "nao foi possivel listar as contas"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

type unlinkRequest struct {
	DiscordID string `json:"discord_id" binding:"required"`
}

func (s *Server) unlinkAccount(c *gin.Context) {
	var req unlinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "discord_id e obrigatorio"}})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.backend.UnlinkAccount(ctx, s.rec.Session(), req.DiscordID); err != nil {
		s.log.Warn("account_unlink_failed", "external_id", req.DiscordID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "backend_error", "message": "nao foi possivel desvincular a conta"}})
		return
	}

	// se o filtro apontava para a conta removida, volta para o feed geral
	if s.rec.Filter() == req.DiscordID {
		s.rec.SetFilter(ctx, "")
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- assinatura ----

func (s *Server) getSubscription(c *gin.Context) {
	snap := s.rec.Subscription()
	c.JSON(http.StatusOK, gin.H{
		"subscription": snap,
		"expired":      reconcile.IsExpired(snap),
		"remaining":    reconcile.TimeRemaining(snap),
		"blocked":      s.rec.Blocked(),
	})
}

func (s *Server) refreshSubscription(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	snap, err := s.rec.RefreshSubscription(ctx)
	if err != nil {
		s.log.Warn("subscription_refresh_failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"subscription": snap, "stale": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": snap, "expired": reconcile.IsExpired(snap)})
}

// ---- pagamentos ----

type initPaymentRequest struct {
	Plan   string `json:"plan" binding:"required"`
	Period string `json:"period" binding:"required"`
	Email  string `json:"email"`
}

func (s *Server) initializePayment(c *gin.Context) {
	var req initPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "plan e period sao obrigatorios"}})
		return
	}

	tier := models.Tier(strings.ToLower(req.Plan))
	months, amount, err := payment.Quote(tier, payment.Period(strings.ToLower(req.Period)))
	if err != nil {
		code := "unknown_plan"
		if errors.Is(err, payment.ErrCustomPlan) {
			code = "custom_plan"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
		return
	}

	sess := s.rec.Session()
	email := req.Email
	if email == "" {
		email = sess.Email
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	// novo checkout rearma o detector de sucesso
	s.watcher.Reset()

	pay, err := s.backend.InitializePayment(ctx, sess, email, tier, months, amount)
	if err != nil {
		s.log.Warn("payment_init_failed", "plan", tier, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "backend_error", "message": "nao foi possivel iniciar o pagamento"}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": pay.Data.AuthorizationURL,
		"reference":         pay.Data.Reference,
		"amount":            amount,
		"months":            months,
	})
}

func (s *Server) listPayments(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	receipts, err := s.backend.Payments(ctx, s.rec.Session())
	if err != nil {
		s.log.Warn("payments_fetch_failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "backend_error", "message": "nao foi possivel listar os pagamentos"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": receipts})
}

func (s *Server) getReceipt(c *gin.Context) {
	reference := c.Param("reference")

	ctx, cancel := s.ctx(c)
	defer cancel()

	receipt, err := s.backend.Receipt(ctx, s.rec.Session(), reference)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "receipt_not_found", "message": "recibo nao encontrado"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// ---- push ----

type pushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) registerPushToken(c *gin.Context) {
	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_body", "message": "token e obrigatorio"}})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if err := s.backend.RegisterPushToken(ctx, s.rec.Session(), req.Token); err != nil {
		// push é melhor-esforço; o agente segue sem
		s.log.Warn("push_token_register_failed", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
