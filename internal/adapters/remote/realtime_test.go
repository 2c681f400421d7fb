package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/leadline/internal/application/ports"
)

func TestNewRealtime_URL(t *testing.T) {
	rt, err := NewRealtime("https://proj.example.co/", "key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rt.url, "wss://proj.example.co/realtime/v1/websocket?"))
	assert.Contains(t, rt.url, "apikey=key")
}

func TestRealtime_DeliversChanges(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	joined := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join phoenixMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joined <- join.Topic

		frames := []string{
			`{"topic":"realtime:public:leads","event":"phx_reply","payload":{"status":"ok"},"ref":"1"}`,
			`{"topic":"realtime:public:leads","event":"INSERT","payload":{"type":"INSERT","table":"leads","record":{"id":"a","phone":"9000000001"}}}`,
			`{"topic":"realtime:public:leads","event":"DELETE","payload":{"type":"DELETE","table":"leads","old_record":{"id":"b"}}}`,
			`not json`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	rt, err := NewRealtime(srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan ports.Change, 4)
	done := make(chan error, 1)
	go func() {
		done <- rt.Subscribe(ctx, []string{"leads"}, func(c ports.Change) { got <- c })
	}()

	assert.Equal(t, "realtime:public:leads", <-joined)

	first := <-got
	assert.Equal(t, ports.ChangeInsert, first.Kind)
	assert.Equal(t, "leads", first.Table)
	assert.Equal(t, "a", first.Record.ID())

	second := <-got
	assert.Equal(t, ports.ChangeDelete, second.Kind)
	assert.Equal(t, "b", second.Record.ID())

	cancel()
	assert.NoError(t, <-done)
}
