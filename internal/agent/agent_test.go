// ABOUTME: Tests for Base message dispatch and the agent Manager
// ABOUTME: Covers ping, custom handlers, unsupported types and duplicate names

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-dispatch/internal/envelope"
)

func TestBase_Ping(t *testing.T) {
	b := NewBase()
	reply, err := b.HandleMessage(context.Background(), &Message{Type: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Type)

	payload, ok := reply.Payload.(PongPayload)
	require.True(t, ok)
	assert.Positive(t, payload.Timestamp)
}

func TestBase_CustomHandler(t *testing.T) {
	b := NewBase()
	b.Handle("greet", func(ctx context.Context, msg *Message) (*Reply, error) {
		return &Reply{Type: "greeting", Payload: "hello " + string(msg.Payload)}, nil
	})

	reply, err := b.HandleMessage(context.Background(), &Message{Type: "greet", Payload: []byte("bob")})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", reply.Payload)
}

func TestBase_UnsupportedType(t *testing.T) {
	var zero Base
	_, err := zero.HandleMessage(context.Background(), &Message{Type: "dance"})

	var e *envelope.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, envelope.CodeUnsupportedMessageType, e.Code)
}

func TestBase_Env(t *testing.T) {
	b := NewBase()
	assert.NotNil(t, b.Logger())
	require.NoError(t, b.OnRegister(context.Background(), Env{Name: "calc"}))
	assert.Equal(t, "calc", b.Env().Name)
	assert.NoError(t, b.OnStart(context.Background()))
	assert.NoError(t, b.OnStop(context.Background()))
	assert.Nil(t, b.Actions())
}

func TestManagerRegister(t *testing.T) {
	m := NewManager(slog.Default())
	first, second := NewBase(), NewBase()

	require.NoError(t, m.Register("a", first))
	assert.ErrorIs(t, m.Register("a", second), ErrAgentAlreadyRegistered)

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestManagerOrder(t *testing.T) {
	m := NewManager(slog.Default())
	for _, name := range []string{"zeta", "alpha", "beta"} {
		require.NoError(t, m.Register(name, NewBase()))
	}
	assert.Equal(t, []string{"zeta", "alpha", "beta"}, m.Names())

	m.Unregister("alpha")
	m.Unregister("missing")
	assert.Equal(t, []string{"zeta", "beta"}, m.Names())

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "beta", all[1].Name)
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager(slog.Default())
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if m.Register("same", NewBase()) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_ = m.Names()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}
