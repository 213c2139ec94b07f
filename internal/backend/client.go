// Package backend fala com a API remota. Todo estado durável mora lá;
// o cliente só transporta JSON sobre HTTPS com bearer auth.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"join-sentinel/internal/logging"
	"join-sentinel/internal/models"
)

var (
	// ErrPaymentRequired is the 402 state transition, not a failure:
	// access is blocked until the subscription flow completes.
	ErrPaymentRequired = errors.New("payment_required")

	// ErrCircuitOpen means polling was skipped because the backend is
	// currently considered down. Treated like any other soft failure.
	ErrCircuitOpen = errors.New("backend_circuit_open")
)

// LinkError carrega a mensagem do backend quando uma credencial capturada é
// rejeitada; sobe até o usuário, ao contrário das falhas de polling.
type LinkError struct {
	Message string
}

func (e *LinkError) Error() string {
	if e.Message == "" {
		return "link_rejected"
	}
	return e.Message
}

type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
	retry   RetryConfig
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

func NewClient(log *slog.Logger, baseURL string) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(),
		retry:   DefaultRetryConfig(),
		// Foreground refreshes race the interval ticker; the limiter keeps the
		// combined outbound rate bounded without de-duplicating the fetches.
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		breaker: NewCircuitBreaker(),
	}
}

// LinkAccount envia a credencial capturada para /link-discord.
// A credencial viaja no corpo; a sessão do host vai no header.
func (c *Client) LinkAccount(ctx context.Context, sess models.HostSession, cred models.Credential) (models.LinkedAccount, error) {
	body := map[string]string{"token": cred.Token}
	if cred.Email != "" {
		body["email"] = cred.Email
	}

	c.log.Info("linking_account", "token", logging.MaskToken(cred.Token), "email", logging.MaskEmail(cred.Email))

	var out struct {
		models.LinkedAccount
		Error string `json:"error"`
	}
	status, err := c.doJSON(ctx, http.MethodPost, "/link-discord", sess.Token, body, &out)
	if err != nil {
		return models.LinkedAccount{}, err
	}
	if status < 200 || status >= 300 {
		return models.LinkedAccount{}, &LinkError{Message: out.Error}
	}
	return out.LinkedAccount, nil
}

// UnlinkAccount remove um vínculo existente.
func (c *Client) UnlinkAccount(ctx context.Context, sess models.HostSession, externalID string) error {
	body := map[string]string{"discord_id": externalID}

	var out struct {
		Error string `json:"error"`
	}
	status, err := c.doJSON(ctx, http.MethodPost, "/unlink-discord", sess.Token, body, &out)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &LinkError{Message: out.Error}
	}
	return nil
}

// Accounts lista os vínculos atuais.
func (c *Client) Accounts(ctx context.Context, sess models.HostSession) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	status, err := c.doJSON(ctx, http.MethodGet, "/me/accounts", sess.Token, nil, &accounts)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("accounts_fetch_failed: status %d", status)
	}
	return accounts, nil
}

// Events busca a lista de eventos, opcionalmente filtrada por conta vinculada.
// 402 vira ErrPaymentRequired; qualquer outra não-2xx é falha branda.
func (c *Client) Events(ctx context.Context, sess models.HostSession, accountFilter string) ([]models.Event, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	path := "/get-all-moves"
	if accountFilter != "" {
		path += "?discord_id=" + url.QueryEscape(accountFilter)
	}

	var events []models.Event
	status, err := c.doJSON(ctx, http.MethodGet, path, sess.Token, nil, &events)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	switch {
	case status == http.StatusPaymentRequired:
		// O backend respondeu de forma definitiva; o circuito continua fechado.
		c.breaker.RecordSuccess()
		return nil, ErrPaymentRequired
	case status < 200 || status >= 300:
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("events_fetch_failed: status %d", status)
	}

	c.breaker.RecordSuccess()
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// Profile busca /me, a autoridade sobre a assinatura.
func (c *Client) Profile(ctx context.Context, sess models.HostSession) (models.Profile, error) {
	var profile models.Profile
	status, err := c.doJSON(ctx, http.MethodGet, "/me", sess.Token, nil, &profile)
	if err != nil {
		return models.Profile{}, err
	}
	if status < 200 || status >= 300 {
		return models.Profile{}, fmt.Errorf("profile_fetch_failed: status %d", status)
	}
	return profile, nil
}

// InitializePayment abre uma sessão de checkout para o plano escolhido.
func (c *Client) InitializePayment(ctx context.Context, sess models.HostSession, email string, plan models.Tier, months int, amountMinor int64) (models.PaymentSession, error) {
	body := map[string]any{
		"email":  email,
		"plan":   string(plan),
		"months": months,
		"amount": amountMinor,
	}

	var out models.PaymentSession
	status, err := c.doJSON(ctx, http.MethodPost, "/initialize-payment", sess.Token, body, &out)
	if err != nil {
		return models.PaymentSession{}, err
	}
	if status < 200 || status >= 300 || !out.Status {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("payment_init_failed: status %d", status)
		}
		return models.PaymentSession{}, errors.New(msg)
	}
	return out, nil
}

// Payments lista os recibos do usuário.
func (c *Client) Payments(ctx context.Context, sess models.HostSession) ([]models.Receipt, error) {
	var receipts []models.Receipt
	status, err := c.doJSON(ctx, http.MethodGet, "/payments", sess.Token, nil, &receipts)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("payments_fetch_failed: status %d", status)
	}
	return receipts, nil
}

// Receipt busca um recibo específico por referência.
func (c *Client) Receipt(ctx context.Context, sess models.HostSession, reference string) (models.Receipt, error) {
	var receipt models.Receipt
	status, err := c.doJSON(ctx, http.MethodGet, "/payments/"+url.PathEscape(reference)+"/receipt", sess.Token, nil, &receipt)
	if err != nil {
		return models.Receipt{}, err
	}
	if status < 200 || status >= 300 {
		return models.Receipt{}, fmt.Errorf("receipt_fetch_failed: status %d", status)
	}
	return receipt, nil
}

// RegisterPushToken entrega o token de push do dispositivo ao backend.
func (c *Client) RegisterPushToken(ctx context.Context, sess models.HostSession, pushToken string) error {
	body := map[string]string{"push_token": pushToken}
	status, err := c.doJSON(ctx, http.MethodPost, "/register-push-token", sess.Token, body, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("push_register_failed: status %d", status)
	}
	return nil
}

// Logout limpa os push tokens no servidor. Falha é tolerada: o logout local
// prossegue de qualquer forma.
func (c *Client) Logout(ctx context.Context, sess models.HostSession) error {
	status, err := c.doJSON(ctx, http.MethodPost, "/logout", sess.Token, nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("logout_failed: status %d", status)
	}
	return nil
}

// doJSON executa uma chamada com bearer auth, honrando Retry-After em 429.
// Retorna o status HTTP; decodificar é best-effort para não-2xx (o corpo de
// erro pode carregar uma mensagem).
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, body any, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode_request: %w", err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return 0, fmt.Errorf("build_request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// timeout e erro de rede são a mesma falha branda; não repete,
			// o polling volta no próximo intervalo
			return 0, fmt.Errorf("request_failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("rate_limited: status 429")

			wait := CalculateBackoff(c.retry, attempt, retryAfter)
			c.log.Warn("backend_rate_limited", "path", path, "wait_ms", wait.Milliseconds())
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read_response: %w", err)
		}

		if out != nil && len(raw) > 0 {
			// best-effort para status de erro
			if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp.StatusCode, fmt.Errorf("decode_response: %w", err)
			}
		}

		return resp.StatusCode, nil
	}

	return 0, lastErr
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
