// Package notify é o colaborador de notificações: o reconciler decide SE uma
// notificação existe, nunca como ela é exibida.
package notify

import "log/slog"

// Notifier recebe um par (título, corpo). Entrega é fire-and-forget: o núcleo
// nunca bloqueia nem inspeciona o resultado.
type Notifier interface {
	Notify(title, body string)
}

// Func adapta uma função em Notifier.
type Func func(title, body string)

func (f Func) Notify(title, body string) {
	f(title, body)
}

// LogNotifier é o degradê padrão quando nenhuma shell está conectada.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(title, body string) {
	n.Log.Info("notification", "title", title, "body", body)
}

// Fanout replica a notificação para vários destinos (shell + log, por exemplo).
type Fanout []Notifier

func (f Fanout) Notify(title, body string) {
	for _, n := range f {
		n.Notify(title, body)
	}
}
