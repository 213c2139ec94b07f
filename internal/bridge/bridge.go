// Package bridge liga o agente à shell que hospeda o browser embutido.
// A shell envia eventos do browser pelo websocket e recebe de volta comandos
// de navegação/injeção e notificações a exibir.
package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Frame é a unidade no fio, nas duas direções.
//
// shell → agente: op ∈ {navigation, loadend, message}
// agente → shell: op ∈ {navigate, inject, close, notify}
type Frame struct {
	Op    string `json:"op"`
	Data  string `json:"data,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// EventHandler recebe os eventos do browser vindos da shell.
type EventHandler interface {
	OnNavigation(url string)
	OnLoadEnd(url string)
	OnMessage(payload string)
}

type Bridge struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	connID  string
	handler EventHandler
	stop    chan struct{}
}

func New(log *slog.Logger) *Bridge {
	return &Bridge{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// plano de controle local; a shell roda no mesmo dispositivo
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetHandler instala o destino dos eventos de browser.
func (b *Bridge) SetHandler(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Connected reporta se há uma shell ligada no momento.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// HandleWS aceita a conexão da shell. Só uma shell por vez; uma conexão nova
// derruba a anterior.
func (b *Bridge) HandleWS(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.Warn("bridge_upgrade_failed", "error", err)
		return
	}

	connID := uuid.NewString()

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
		close(b.stop)
	}
	b.conn = conn
	b.connID = connID
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	b.log.Info("bridge_shell_connected", "conn_id", connID)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go b.pingLoop(conn, stop)
	b.readLoop(conn, connID, stop)
}

func (b *Bridge) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn, connID string, stop chan struct{}) {
	defer func() {
		b.mu.Lock()
		if b.connID == connID {
			b.conn = nil
			b.connID = ""
			select {
			case <-stop:
			default:
				close(stop)
			}
		}
		b.mu.Unlock()
		conn.Close()
		b.log.Info("bridge_shell_disconnected", "conn_id", connID)
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		b.mu.Lock()
		handler := b.handler
		b.mu.Unlock()
		if handler == nil {
			continue
		}

		switch frame.Op {
		case "navigation":
			handler.OnNavigation(frame.Data)
		case "loadend":
			handler.OnLoadEnd(frame.Data)
		case "message":
			handler.OnMessage(frame.Data)
		default:
			b.log.Debug("bridge_unknown_op", "op", frame.Op)
		}
	}
}

func (b *Bridge) send(frame Frame) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		// sem shell ligada o comando cai no chão; o engine tolera e o teto
		// da sessão de captura cuida do resto
		b.log.Debug("bridge_send_no_shell", "op", frame.Op)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		b.log.Warn("bridge_send_failed", "op", frame.Op, "error", err)
	}
}

// Navigate manda a shell navegar o browser embutido.
func (b *Bridge) Navigate(url string) {
	b.send(Frame{Op: "navigate", Data: url})
}

// Inject manda a shell executar um script no contexto da página.
func (b *Bridge) Inject(script string) {
	b.send(Frame{Op: "inject", Data: script})
}

// CloseBrowser manda a shell fechar o browser embutido.
func (b *Bridge) CloseBrowser() {
	b.send(Frame{Op: "close"})
}

// Notify empurra uma notificação (título, corpo) para a shell exibir.
// Fire-and-forget por contrato.
func (b *Bridge) Notify(title, body string) {
	b.send(Frame{Op: "notify", Title: title, Body: body})
}
