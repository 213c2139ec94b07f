// Package capture extrai uma credencial bearer de uma sessão autenticada em
// um site de terceiros, dirigindo um browser embutido que o host controla.
// O engine nunca vê a UI de login; ele só reage a eventos de navegação e às
// mensagens postadas pelo script de sondagem.
package capture

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"join-sentinel/internal/logging"
	"join-sentinel/internal/models"
)

// PlaceholderEmail preenche o resultado quando nenhuma estratégia recuperou
// um e-mail.
const PlaceholderEmail = "unknown"

// State é o estado corrente de uma sessão de captura.
type State int

const (
	StateIdle State = iota
	StateNavigating
	StateProbeScheduled
	StateProbing
	StateSucceeded
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigating:
		return "navigating"
	case StateProbeScheduled:
		return "probe-scheduled"
	case StateProbing:
		return "probing"
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// BrowserController é o que o engine precisa do browser embutido. O host é
// dono do widget; fechar o browser é responsabilidade dele.
type BrowserController interface {
	Navigate(url string)
	Inject(script string)
}

type Config struct {
	LoginURL      string
	TargetDomain  string
	ProbeInterval time.Duration // sondagens em sequência estrita, nunca sobrepostas
	SettleDelay   time.Duration // espera após navegação antes de injetar
	RedirectDelay time.Duration // espera antes do redirect pós-falha
	Budget        time.Duration // teto duro da sessão de captura
}

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = "https://discord.com/login"
	}
	if c.TargetDomain == "" {
		c.TargetDomain = "discord.com"
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.RedirectDelay <= 0 {
		c.RedirectDelay = 600 * time.Millisecond
	}
	if c.Budget <= 0 {
		c.Budget = 30 * time.Second
	}
	return c
}

type Engine struct {
	cfg Config
	log *slog.Logger
}

func NewEngine(cfg Config, log *slog.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), log: log}
}

// Session is one capture attempt. All cursors and guards are fields here,
// never package state: the one-shot redirect and the result latch reset by
// constructing a new session, nothing else.
type Session struct {
	ID string

	cfg        Config
	log        *slog.Logger
	browser    BrowserController
	strategies []Strategy
	onResult   func(models.Credential)

	mu            sync.Mutex
	state         State
	redirected    bool // one redirect per capture session
	done          bool // result emitted or budget elapsed
	settleTimer   *time.Timer
	redirectTimer *time.Timer
	deadline      *time.Timer
	stopProbe     chan struct{}
}

// Begin abre uma sessão de captura: limpa o storage do browser, navega para a
// página de login e arma o teto de duração. Se probe for não-nulo o engine
// também sonda diretamente no intervalo configurado; caso contrário depende
// das mensagens postadas pelo script injetado.
func (e *Engine) Begin(browser BrowserController, probe Probe, onResult func(models.Credential)) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		cfg:        e.cfg,
		log:        e.log,
		browser:    browser,
		strategies: DefaultStrategies(),
		onResult:   onResult,
		state:      StateNavigating,
		stopProbe:  make(chan struct{}),
	}

	// sessão limpa antes de navegar: nunca reusar um login antigo
	browser.Inject(ClearScript)
	browser.Navigate(s.cfg.LoginURL)

	s.deadline = time.AfterFunc(s.cfg.Budget, s.timeout)

	if probe != nil {
		go s.probeLoop(probe)
	}

	s.log.Info("capture_session_started", "session_id", s.ID, "login_url", s.cfg.LoginURL)
	return s
}

// OnNavigation é chamado pelo host a cada mudança de URL da página.
func (s *Session) OnNavigation(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	s.log.Debug("capture_navigation", "session_id", s.ID, "url", url)

	if isAuthenticatedArea(url, s.cfg.TargetDomain) {
		s.scheduleInjectLocked()
		return
	}

	s.state = StateNavigating
}

// OnLoadEnd é chamado quando uma navegação termina de carregar.
func (s *Session) OnLoadEnd(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	if isFailurePath(url) {
		if s.redirected {
			// guarda one-shot: um único redirect por sessão evita loop
			return
		}
		s.redirected = true
		s.state = StateNavigating
		s.log.Info("capture_failure_page", "session_id", s.ID, "url", url)
		s.redirectTimer = time.AfterFunc(s.cfg.RedirectDelay, func() {
			s.browser.Navigate(s.cfg.LoginURL)
		})
		return
	}

	// the first extraction path sometimes wins before login completes,
	// thanks to cached state, so the login page also gets a probe
	if isLoginPath(url) || isAuthenticatedArea(url, s.cfg.TargetDomain) {
		s.scheduleInjectLocked()
	}
}

func (s *Session) scheduleInjectLocked() {
	s.state = StateProbeScheduled
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.AfterFunc(s.cfg.SettleDelay, s.inject)
}

func (s *Session) inject() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.state = StateProbing
	script := BuildProbeScript(s.cfg.ProbeInterval, s.cfg.Budget)
	s.mu.Unlock()

	s.log.Debug("capture_probe_injected", "session_id", s.ID)
	s.browser.Inject(script)
}

// probeLoop sonda o contexto da página em sequência estrita até o sucesso,
// o cancelamento ou o teto da sessão.
func (s *Session) probeLoop(probe Probe) {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopProbe:
			return
		case <-ticker.C:
			s.tryProbe(probe)
		}
	}
}

func (s *Session) tryProbe(probe Probe) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.state = StateProbing
	strategies := s.strategies
	s.mu.Unlock()

	cred, name, ok := runStrategies(strategies, probe)
	if !ok {
		return
	}

	s.log.Info("capture_strategy_succeeded", "session_id", s.ID, "strategy", name)
	s.emit(cred)
}

// wireMessage é o payload postado pelo script de sondagem.
type wireMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data"`
	Email string `json:"email,omitempty"`
}

// OnMessage consome um payload postado de dentro da página. Aceita o JSON do
// script ou, como último recurso, uma string crua que pareça um token.
func (s *Session) OnMessage(payload string) {
	var msg wireMessage
	if err := json.Unmarshal([]byte(payload), &msg); err == nil {
		if msg.Type != "TOKEN" || msg.Data == "" {
			return
		}
		clean := Normalize(msg.Data)
		if !Acceptable(clean) {
			s.log.Debug("capture_candidate_rejected", "session_id", s.ID, "len", len(clean))
			return
		}
		s.emit(models.Credential{Token: clean, Email: msg.Email})
		return
	}

	// fallback: string direta, sem cara de JSON nem de erro
	raw := strings.TrimSpace(payload)
	if len(raw) <= MinTokenLength || strings.Contains(raw, "{") || strings.Contains(strings.ToLower(raw), "error") {
		return
	}
	clean := Normalize(raw)
	if !Acceptable(clean) {
		return
	}
	s.emit(models.Credential{Token: clean})
}

// emit reporta o resultado ao host no máximo uma vez por sessão.
func (s *Session) emit(cred models.Credential) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.state = StateSucceeded
	s.stopTimersLocked()
	close(s.stopProbe)
	cb := s.onResult
	s.mu.Unlock()

	if cred.Email == "" {
		cred.Email = PlaceholderEmail
	}

	s.log.Info("capture_succeeded", "session_id", s.ID, "token", logging.MaskToken(cred.Token))
	if cb != nil {
		cb(cred)
	}
}

func (s *Session) timeout() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.state = StateTimedOut
	s.stopTimersLocked()
	close(s.stopProbe)
	s.mu.Unlock()

	// silêncio deliberado: o host trata ausência de resultado como falha
	// recuperável, nunca como erro
	s.log.Info("capture_timed_out", "session_id", s.ID)
}

// Cancel encerra a sessão sem emitir resultado (host fechou o browser).
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.stopTimersLocked()
	close(s.stopProbe)
	s.mu.Unlock()

	s.log.Info("capture_cancelled", "session_id", s.ID)
}

func (s *Session) stopTimersLocked() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	if s.redirectTimer != nil {
		s.redirectTimer.Stop()
	}
	if s.deadline != nil {
		s.deadline.Stop()
	}
}

// State retorna o estado corrente da sessão.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done reporta se a sessão chegou a um estado terminal.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
