package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jbctechsolutions/leadline/internal/application/ports"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

const (
	realtimePath      = "/realtime/v1/websocket"
	heartbeatInterval = 30 * time.Second
)

// phoenixMessage is the realtime channel frame.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// changePayload is the body of an INSERT, UPDATE or DELETE frame.
type changePayload struct {
	Type      string        `json:"type"`
	Table     string        `json:"table"`
	Record    record.Record `json:"record"`
	OldRecord record.Record `json:"old_record"`
}

// Realtime is a ports.ChangeFeed over the realtime websocket endpoint.
type Realtime struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	ref  int
}

// NewRealtime derives the websocket endpoint from the REST base URL.
func NewRealtime(baseURL, apiKey string) (*Realtime, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += realtimePath
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	return &Realtime{
		url:    u.String(),
		dialer: websocket.DefaultDialer,
	}, nil
}

// Subscribe joins one channel per table and calls fn for every row change.
// It returns when ctx is done or the connection drops.
func (r *Realtime) Subscribe(ctx context.Context, tables []string, fn func(ports.Change)) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("dialing realtime: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer r.Close()

	for _, t := range tables {
		if err := r.send("realtime:public:"+t, "phx_join", map[string]any{}); err != nil {
			return fmt.Errorf("joining %s: %w", t, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.heartbeat(ctx)
	go func() {
		<-ctx.Done()
		r.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading realtime: %w", err)
		}

		var msg phoenixMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if ch, ok := decodeChange(msg); ok {
			fn(ch)
		}
	}
}

func decodeChange(msg phoenixMessage) (ports.Change, bool) {
	kind := ports.ChangeKind(msg.Event)
	switch kind {
	case ports.ChangeInsert, ports.ChangeUpdate, ports.ChangeDelete:
	default:
		return ports.Change{}, false
	}

	var p changePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return ports.Change{}, false
	}
	table := p.Table
	if table == "" {
		table = strings.TrimPrefix(msg.Topic, "realtime:public:")
	}

	rec := p.Record
	if kind == ports.ChangeDelete {
		rec = p.OldRecord
	}
	if rec.ID() == "" {
		return ports.Change{}, false
	}
	return ports.Change{Kind: kind, Table: table, Record: rec}, true
}

func (r *Realtime) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.send("phoenix", "heartbeat", map[string]any{}); err != nil {
				return
			}
		}
	}
}

func (r *Realtime) send(topic, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("realtime not connected")
	}
	r.ref++
	return r.conn.WriteJSON(phoenixMessage{
		Topic:   topic,
		Event:   event,
		Payload: body,
		Ref:     strconv.Itoa(r.ref),
	})
}

// Close closes the connection if open.
func (r *Realtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
