package tablechat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptConn is an in-memory Conn. Events pushed into events come out
// of ReadJSON; commands the manager writes are recorded.
type scriptConn struct {
	events chan Event
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []Command
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptConn) ReadJSON(v any) error {
	select {
	case ev := <-c.events:
		*(v.(*Event)) = ev
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *scriptConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v.(Command))
	return nil
}

func (c *scriptConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestReconnectDelayDoublesPerAttempt(t *testing.T) {
	m := NewConnManager(ConnOptions{
		Dialer:    func(context.Context) (Conn, error) { return nil, errors.New("no") },
		BaseDelay: time.Second,
	})

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, m.reconnectDelay(i+1), "attempt %d", i+1)
	}
}

func TestFatalFiresExactlyOnceAfterBudgetExhausted(t *testing.T) {
	var dials, fatals atomic.Int32
	done := make(chan struct{})

	m := NewConnManager(ConnOptions{
		Dialer: func(context.Context) (Conn, error) {
			dials.Add(1)
			return nil, errors.New("refused")
		},
		BaseDelay:  time.Millisecond,
		MaxRetries: 3,
		OnFatal: func(err error) {
			require.ErrorIs(t, err, ErrReconnectFailed)
			if fatals.Add(1) == 1 {
				close(done)
			}
		},
	})
	defer m.Close()

	m.Connect(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fatal callback never fired")
	}

	// Give a lingering loop the chance to misbehave before asserting.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), dials.Load(), "initial attempt plus MaxRetries retries")
	assert.Equal(t, int32(1), fatals.Load(), "fatal must fire exactly once")
	assert.Equal(t, StateDisconnected, m.State())
}

func TestSendWhileDisconnectedFailsFast(t *testing.T) {
	m := NewConnManager(ConnOptions{
		Dialer: func(context.Context) (Conn, error) { return nil, errors.New("refused") },
	})
	err := m.Send(NewSend("room-1", "hello"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectAfterDropAndBackoffReset(t *testing.T) {
	var mu sync.Mutex
	var conns []*scriptConn
	connects := make(chan struct{}, 8)

	m := NewConnManager(ConnOptions{
		Dialer: func(context.Context) (Conn, error) {
			conn := newScriptConn()
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			return conn, nil
		},
		BaseDelay:  time.Millisecond,
		MaxRetries: 5,
		OnConnect:  func() { connects <- struct{}{} },
	})
	defer m.Close()

	m.Connect(context.Background())

	waitSignal(t, connects, "first connect")
	assert.Equal(t, StateConnected, m.State())

	// Drop the connection; the manager reconnects on a fresh one.
	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.Close()

	waitSignal(t, connects, "reconnect")
	assert.Equal(t, StateConnected, m.State())
	mu.Lock()
	total := len(conns)
	mu.Unlock()
	assert.Equal(t, 2, total)

	// The new connection accepts sends; the backoff run was reset, so
	// no fatal fired along the way.
	require.NoError(t, m.Send(NewSend("room-1", "still here")))
}

func TestEventsArriveInOrder(t *testing.T) {
	conn := newScriptConn()
	var got []Event
	var mu sync.Mutex
	received := make(chan struct{}, 16)

	m := NewConnManager(ConnOptions{
		Dialer: func(context.Context) (Conn, error) { return conn, nil },
		OnEvent: func(ev Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
			received <- struct{}{}
		},
	})
	defer m.Close()

	m.Connect(context.Background())

	for i, kind := range []EventKind{EventMessage, EventTyping, EventUnread} {
		data, _ := json.Marshal(map[string]int{"seq": i})
		conn.events <- Event{Kind: kind, Data: data}
	}
	for i := 0; i < 3; i++ {
		waitSignal(t, received, "event")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, EventMessage, got[0].Kind)
	assert.Equal(t, EventTyping, got[1].Kind)
	assert.Equal(t, EventUnread, got[2].Kind)
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
