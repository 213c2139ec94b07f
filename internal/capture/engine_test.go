package capture

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"join-sentinel/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBrowser struct {
	mu        sync.Mutex
	navigated []string
	injected  []string
}

func (b *fakeBrowser) Navigate(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigated = append(b.navigated, url)
}

func (b *fakeBrowser) Inject(script string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.injected = append(b.injected, script)
}

func (b *fakeBrowser) navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.navigated))
	copy(out, b.navigated)
	return out
}

func (b *fakeBrowser) injections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.injected)
}

type resultCollector struct {
	mu    sync.Mutex
	creds []models.Credential
	ch    chan models.Credential
}

func newResultCollector() *resultCollector {
	return &resultCollector{ch: make(chan models.Credential, 4)}
}

func (r *resultCollector) callback(cred models.Credential) {
	r.mu.Lock()
	r.creds = append(r.creds, cred)
	r.mu.Unlock()
	r.ch <- cred
}

func (r *resultCollector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}

func tokenMessage(token, email string) string {
	b, _ := json.Marshal(map[string]string{"type": "TOKEN", "data": token, "email": email})
	return string(b)
}

func TestBegin_ClearsStorageAndNavigatesToLogin(t *testing.T) {
	browser := &fakeBrowser{}
	engine := NewEngine(Config{LoginURL: "https://discord.com/login"}, testLogger())

	sess := engine.Begin(browser, nil, nil)
	defer sess.Cancel()

	navs := browser.navigations()
	if len(navs) != 1 || navs[0] != "https://discord.com/login" {
		t.Errorf("expected a single navigation to the login page, got %v", navs)
	}
	if browser.injections() != 1 {
		t.Errorf("expected the storage clear script injected before navigation, got %d injections", browser.injections())
	}
	if sess.State() != StateNavigating {
		t.Errorf("expected navigating state, got %s", sess.State())
	}
}

func TestOnMessage_EmitsOnce(t *testing.T) {
	browser := &fakeBrowser{}
	collector := newResultCollector()
	engine := NewEngine(Config{}, testLogger())

	sess := engine.Begin(browser, nil, collector.callback)
	defer sess.Cancel()

	token := strings.Repeat("t", 30)
	sess.OnMessage(tokenMessage(token, "user@example.com"))
	sess.OnMessage(tokenMessage(strings.Repeat("u", 40), "other@example.com"))

	if got := collector.count(); got != 1 {
		t.Fatalf("expected exactly one result, got %d", got)
	}
	cred := <-collector.ch
	if cred.Token != token {
		t.Errorf("unexpected token %q", cred.Token)
	}
	if cred.Email != "user@example.com" {
		t.Errorf("unexpected email %q", cred.Email)
	}
	if sess.State() != StateSucceeded {
		t.Errorf("expected succeeded state, got %s", sess.State())
	}
	if !sess.Done() {
		t.Error("expected session to be terminal")
	}
}

func TestOnMessage_PlaceholderEmail(t *testing.T) {
	browser := &fakeBrowser{}
	collector := newResultCollector()
	engine := NewEngine(Config{}, testLogger())

	sess := engine.Begin(browser, nil, collector.callback)
	defer sess.Cancel()

	sess.OnMessage(tokenMessage(strings.Repeat("t", 30), ""))

	cred := <-collector.ch
	if cred.Email != PlaceholderEmail {
		t.Errorf("expected placeholder email, got %q", cred.Email)
	}
}

func TestOnMessage_RejectsShortToken(t *testing.T) {
	browser := &fakeBrowser{}
	collector := newResultCollector()
	engine := NewEngine(Config{}, testLogger())

	sess := engine.Begin(browser, nil, collector.callback)
	defer sess.Cancel()

	// exatamente no piso: ainda curto demais
	sess.OnMessage(tokenMessage(strings.Repeat("t", MinTokenLength), ""))

	if collector.count() != 0 {
		t.Error("token at the length floor must not emit")
	}
	if sess.Done() {
		t.Error("session must stay open after a rejected candidate")
	}
}

func TestOnMessage_RawStringFallback(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected bool
	}{
		{"plausible token", strings.Repeat("r", 25), true},
		{"too short", strings.Repeat("r", 15), false},
		{"json-ish", `{"foo": "` + strings.Repeat("r", 25) + `"}`, false},
		{"error text", "error: " + strings.Repeat("r", 25), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			browser := &fakeBrowser{}
			collector := newResultCollector()
			engine := NewEngine(Config{}, testLogger())

			sess := engine.Begin(browser, nil, collector.callback)
			defer sess.Cancel()

			sess.OnMessage(tt.payload)

			if got := collector.count() == 1; got != tt.expected {
				t.Errorf("emit = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestProbeLoop_StrategyWins(t *testing.T) {
	browser := &fakeBrowser{}
	collector := newResultCollector()
	engine := NewEngine(Config{ProbeInterval: 10 * time.Millisecond}, testLogger())

	probe := &fakeProbe{
		moduleErr: errNoToken,
		child:     map[string]string{"token": strings.Repeat("p", 30)},
	}

	sess := engine.Begin(browser, probe, collector.callback)
	defer sess.Cancel()

	select {
	case cred := <-collector.ch:
		if cred.Token != strings.Repeat("p", 30) {
			t.Errorf("unexpected token %q", cred.Token)
		}
		if cred.Email != PlaceholderEmail {
			t.Errorf("expected placeholder email, got %q", cred.Email)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe loop never produced a result")
	}

	// o loop para depois do primeiro sucesso
	time.Sleep(50 * time.Millisecond)
	if collector.count() != 1 {
		t.Errorf("expected a single result, got %d", collector.count())
	}
}

func TestTimeout_NoResultEmitted(t *testing.T) {
	browser := &fakeBrowser{}
	collector := newResultCollector()
	engine := NewEngine(Config{Budget: 30 * time.Millisecond}, testLogger())

	sess := engine.Begin(browser, nil, collector.callback)

	time.Sleep(150 * time.Millisecond)

	if collector.count() != 0 {
		t.Error("timeout must not deliver a result")
	}
	if sess.State() != StateTimedOut {
		t.Errorf("expected timed out state, got %s", sess.State())
	}
	if !sess.Done() {
		t.Error("expected session to be terminal after the budget")
	}

	// mensagens tardias caem no chão
	sess.OnMessage(tokenMessage(strings.Repeat("t", 30), ""))
	if collector.count() != 0 {
		t.Error("terminal session must ignore late messages")
	}
}

func TestOnLoadEnd_OneRedirectPerSession(t *testing.T) {
	browser := &fakeBrowser{}
	engine := NewEngine(Config{RedirectDelay: 10 * time.Millisecond}, testLogger())

	sess := engine.Begin(browser, nil, nil)
	defer sess.Cancel()

	sess.OnLoadEnd("https://discord.com/logout")
	sess.OnLoadEnd("https://discord.com/404")
	sess.OnLoadEnd("https://discord.com/error")

	time.Sleep(100 * time.Millisecond)

	// Begin navega uma vez; só a primeira página de falha soma outra.
	if navs := browser.navigations(); len(navs) != 2 {
		t.Errorf("expected exactly one failure redirect, got navigations %v", navs)
	}
}

func TestOnNavigation_AuthenticatedAreaSchedulesProbe(t *testing.T) {
	browser := &fakeBrowser{}
	engine := NewEngine(Config{SettleDelay: 10 * time.Millisecond}, testLogger())

	sess := engine.Begin(browser, nil, nil)
	defer sess.Cancel()

	before := browser.injections()
	sess.OnNavigation("https://discord.com/channels/@me")

	if sess.State() != StateProbeScheduled {
		t.Errorf("expected probe scheduled, got %s", sess.State())
	}

	time.Sleep(100 * time.Millisecond)

	if browser.injections() != before+1 {
		t.Errorf("expected one probe injection after the settle delay, got %d new", browser.injections()-before)
	}
	if sess.State() != StateProbing {
		t.Errorf("expected probing state, got %s", sess.State())
	}
}

func TestCancel_Silent(t *testing.T) {
	browser := &fakeBrowser{}
	collector := newResultCollector()
	engine := NewEngine(Config{}, testLogger())

	sess := engine.Begin(browser, nil, collector.callback)
	sess.Cancel()

	if collector.count() != 0 {
		t.Error("cancel must not deliver a result")
	}
	if !sess.Done() {
		t.Error("expected session to be terminal after cancel")
	}

	// cancel duplo é inofensivo
	sess.Cancel()
}
