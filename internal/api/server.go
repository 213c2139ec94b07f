// Package api expõe o plano de controle local do agente para a shell que o
// hospeda. Tudo aqui fala loopback; o backend remoto fica atrás do pacote
// backend e nunca é exposto direto.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"join-sentinel/internal/backend"
	"join-sentinel/internal/capture"
	"join-sentinel/internal/config"
	"join-sentinel/internal/notify"
	"join-sentinel/internal/payment"
	"join-sentinel/internal/reconcile"
	"join-sentinel/internal/security"
)

type Server struct {
	log      *slog.Logger
	cfg      config.Config
	backend  *backend.Client
	rec      *reconcile.Reconciler
	engine   *capture.Engine
	browser  capture.BrowserController
	watcher  *payment.Watcher
	notifier notify.Notifier
	router   *gin.Engine
	limiter  *security.LimiterStore

	mu          sync.Mutex
	session     *capture.Session
	lastLinkErr string
}

// NewServer monta as rotas. bridgeWS é o upgrade do websocket da shell; pode
// ser nil quando a shell usa só o caminho HTTP.
func NewServer(
	log *slog.Logger,
	cfg config.Config,
	backendClient *backend.Client,
	rec *reconcile.Reconciler,
	engine *capture.Engine,
	browser capture.BrowserController,
	watcher *payment.Watcher,
	notifier notify.Notifier,
	bridgeWS gin.HandlerFunc,
) *Server {
	s := &Server{
		log:      log,
		cfg:      cfg,
		backend:  backendClient,
		rec:      rec,
		engine:   engine,
		browser:  browser,
		watcher:  watcher,
		notifier: notifier,
		router:   gin.New(),
		// plano de controle local: janela generosa, só contra shell em loop
		limiter: security.NewLimiterStore(50, 100, 10*time.Minute),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())

	r.GET("/healthz", s.health)
	if bridgeWS != nil {
		r.GET("/bridge/ws", bridgeWS)
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.health)

		v1.POST("/session", s.setSession)
		v1.GET("/session", s.getSession)
		v1.POST("/logout", s.logout)
		v1.POST("/foreground", s.foreground)

		v1.POST("/capture/start", s.startCapture)
		v1.POST("/capture/cancel", s.cancelCapture)
		v1.GET("/capture/state", s.captureState)

		// caminho HTTP para shells sem websocket; espelha os frames do bridge
		v1.POST("/browser/navigation", s.browserNavigation)
		v1.POST("/browser/loadend", s.browserLoadEnd)
		v1.POST("/browser/message", s.browserMessage)

		v1.GET("/feed", s.getFeed)
		v1.POST("/feed/refresh", s.refreshFeed)
		v1.POST("/feed/filter", s.setFilter)

		v1.GET("/accounts", s.listAccounts)
		v1.POST("/accounts/unlink", s.unlinkAccount)

		v1.GET("/subscription", s.getSubscription)
		v1.POST("/subscription/refresh", s.refreshSubscription)

		v1.POST("/payments/initialize", s.initializePayment)
		v1.GET("/payments", s.listPayments)
		v1.GET("/payments/:reference/receipt", s.getReceipt)

		v1.POST("/push-token", s.registerPushToken)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
