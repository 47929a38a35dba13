// sw/messages.go
package sw

import (
	"context"
	"strings"
	"time"
)

const (
	MsgGetVersion  = "GET_VERSION"
	MsgVersion     = "VERSION"
	MsgSkipWaiting = "SKIP_WAITING"
	MsgActivated   = "ACTIVATED"
)

type Message struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

// HandleMessage answers a client message. Unknown types get no reply.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) (*Message, error) {
	switch msg.Type {
	case MsgGetVersion:
		return &Message{Type: MsgVersion, Version: e.opts.Version}, nil
	case MsgSkipWaiting:
		e.mu.Lock()
		e.skipWaiting = true
		e.mu.Unlock()
		if err := e.Activate(ctx); err != nil {
			return nil, err
		}
		return &Message{Type: MsgActivated, Version: e.opts.Version}, nil
	default:
		e.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil, nil
	}
}

const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Vibrate []int                `json:"vibrate,omitempty"`
	Data    map[string]any       `json:"data,omitempty"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays notifications and opens pages on behalf of the engine.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
	OpenWindow(ctx context.Context, url string) error
}

type nopNotifier struct{}

func (nopNotifier) ShowNotification(context.Context, Notification) error { return nil }
func (nopNotifier) OpenWindow(context.Context, string) error           { return nil }

// Push shows a notification for a push payload. An empty payload gets a
// generic body.
func (e *Engine) Push(ctx context.Context, payload []byte) error {
	body := strings.TrimSpace(string(payload))
	if body == "" {
		body = "You have new updates"
	}
	n := Notification{
		Title:   e.opts.AppName,
		Body:    body,
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/icon-72x72.png",
		Vibrate: []int{100, 50, 100},
		Data:    map[string]any{"dateOfArrival": time.Now().UnixMilli(), "primaryKey": 1},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "View details"},
			{Action: ActionClose, Title: "Close"},
		},
	}
	return e.opts.Notifier.ShowNotification(ctx, n)
}

// NotificationClick handles a click on a notification action: explore opens
// the app root, everything else only dismisses.
func (e *Engine) NotificationClick(ctx context.Context, action string) error {
	if action != ActionExplore {
		return nil
	}
	return e.opts.Notifier.OpenWindow(ctx, "/")
}
