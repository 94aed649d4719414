package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/channel"
)

// echoServer возвращает клиенту каждое сообщение и запоминает запрошенные пути.
type echoServer struct {
	conns []*websocket.Conn
	paths []string
	mu    sync.Mutex
}

func (e *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.paths = append(e.paths, r.URL.EscapedPath())
	e.mu.Unlock()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

// dropAll обрывает все соединения со стороны сервера.
func (e *echoServer) dropAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, conn := range e.conns {
		conn.Close()
	}
	e.conns = nil
}

func (e *echoServer) dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.paths)
}

func newTestChannel(t *testing.T, baseURL string) *Channel {
	t.Helper()
	c, err := New(baseURL,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }),
	)
	require.NoError(t, err)
	return c
}

func nextEvent(t *testing.T, sub channel.Subscription) channel.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return channel.Event{}
	}
}

func TestNew_URL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "ws", in: "ws://localhost:8080", want: "ws://localhost:8080"},
		{name: "http", in: "http://localhost:8080/", want: "ws://localhost:8080"},
		{name: "https", in: "https://relay.example.com", want: "wss://relay.example.com"},
		{name: "unsupported", in: "ftp://relay", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}

func TestSubscription_PublishEcho(t *testing.T) {
	srv := &echoServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sub, err := newTestChannel(t, ts.URL).Subscribe(context.Background(), "doc:a b")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, channel.StateSubscribed, nextEvent(t, sub).State)

	require.NoError(t, sub.Publish(context.Background(), []byte(`{"type":"update"}`)))
	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"type":"update"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}

	srv.mu.Lock()
	assert.Equal(t, "/ws/doc:a%20b", srv.paths[0])
	srv.mu.Unlock()
}

func TestSubscription_Reconnects(t *testing.T) {
	srv := &echoServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sub, err := newTestChannel(t, ts.URL).Subscribe(context.Background(), "doc:r")
	require.NoError(t, err)
	defer sub.Close()

	require.Equal(t, channel.StateSubscribed, nextEvent(t, sub).State)

	srv.dropAll()

	ev := nextEvent(t, sub)
	assert.Equal(t, channel.StateErrored, ev.State)
	assert.Error(t, ev.Err)

	assert.Equal(t, channel.StateSubscribed, nextEvent(t, sub).State)
	assert.Equal(t, 2, srv.dials())
	assert.NoError(t, sub.Publish(context.Background(), []byte("after reconnect")))
}

func TestSubscription_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	sub, err := newTestChannel(t, url).Subscribe(context.Background(), "doc:x")
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, channel.StateErrored, nextEvent(t, sub).State)
	assert.ErrorIs(t, sub.Publish(context.Background(), []byte("x")), ErrNotConnected)
}

func TestSubscription_Close(t *testing.T) {
	srv := &echoServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	sub, err := newTestChannel(t, ts.URL).Subscribe(context.Background(), "doc:c")
	require.NoError(t, err)
	require.Equal(t, channel.StateSubscribed, nextEvent(t, sub).State)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	assert.ErrorIs(t, sub.Publish(context.Background(), []byte("x")), channel.ErrClosed)

	var states []channel.State
	for ev := range sub.Events() {
		states = append(states, ev.State)
	}
	assert.Equal(t, []channel.State{channel.StateClosed}, states)

	_, ok := <-sub.Messages()
	assert.False(t, ok)
}
