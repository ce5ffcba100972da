// ABOUTME: Tests for the notes agent through the action registry
// ABOUTME: Uses a real in-memory SQLite store and a recording session sink

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/2389/mcp-dispatch/internal/agent"
	"github.com/2389/mcp-dispatch/internal/auth"
	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/registry"
	"github.com/2389/mcp-dispatch/internal/session"
	"github.com/2389/mcp-dispatch/internal/store"
)

type recordingSessions struct {
	mu       sync.Mutex
	frames   []any
	subjects []string
	global   int
}

func (r *recordingSessions) Send(string, any) error { return nil }

func (r *recordingSessions) Broadcast(frame any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global++
	r.frames = append(r.frames, frame)
	return 1
}

func (r *recordingSessions) BroadcastTo(subject string, frame any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	r.subjects = append(r.subjects, subject)
	return 1
}

type notesFixture struct {
	agent    *Notes
	registry *registry.Registry
	sessions *recordingSessions
}

func newNotesFixture(t *testing.T, authenticated bool) *notesFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(store.MemoryPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := NewNotes(s, authenticated)
	reg := registry.NewRegistry(logger, registry.Options{AuthDisabled: !authenticated})
	for _, a := range n.Actions() {
		if err := reg.Register(NotesAgentName, a); err != nil {
			t.Fatalf("Register(%s): %v", a.Name, err)
		}
	}

	sessions := &recordingSessions{}
	if err := n.OnRegister(context.Background(), agent.Env{Name: NotesAgentName, Logger: logger, Sessions: sessions}); err != nil {
		t.Fatalf("OnRegister: %v", err)
	}
	return &notesFixture{agent: n, registry: reg, sessions: sessions}
}

func (f *notesFixture) invoke(t *testing.T, action, input string, id *auth.Identity) (*registry.Outcome, error) {
	t.Helper()
	return f.registry.Invoke(context.Background(), &registry.Call{
		Agent:    NotesAgentName,
		Action:   action,
		Input:    json.RawMessage(input),
		Identity: id,
	})
}

func codeOf(err error) envelope.Code {
	var e *envelope.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func TestNotesLifecycle(t *testing.T) {
	f := newNotesFixture(t, false)

	out, err := f.invoke(t, "set", `{"key":"mykey","value":"myvalue"}`, nil)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if out.Explanation == "" {
		t.Error("expected an explanation for set")
	}
	resp, ok := out.Data.(map[string]string)
	if !ok || resp["status"] != "saved" {
		t.Errorf("unexpected set result: %#v", out.Data)
	}

	out, err = f.invoke(t, "get", `{"key":"mykey"}`, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := out.Data.(map[string]string)["value"]; got != "myvalue" {
		t.Errorf("expected myvalue, got %s", got)
	}

	out, err = f.invoke(t, "list", `{}`, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	keys := out.Data.(*KeyList)
	if keys.Count != 1 || keys.Keys[0] != "mykey" {
		t.Errorf("unexpected list result: %+v", keys)
	}

	if _, err := f.invoke(t, "delete", `{"key":"mykey"}`, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.invoke(t, "get", `{"key":"mykey"}`, nil); codeOf(err) != envelope.CodeNotFound {
		t.Errorf("expected NOT_FOUND after delete, got %v", err)
	}
	if _, err := f.invoke(t, "delete", `{"key":"mykey"}`, nil); codeOf(err) != envelope.CodeNotFound {
		t.Errorf("expected NOT_FOUND deleting twice, got %v", err)
	}
}

func TestNotesValidation(t *testing.T) {
	f := newNotesFixture(t, false)

	tests := []struct {
		name   string
		action string
		input  string
	}{
		{"set without value", "set", `{"key":"k"}`},
		{"set empty key", "set", `{"key":"","value":"v"}`},
		{"get wrong type", "get", `{"key":7}`},
		{"delete missing key", "delete", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.invoke(t, tt.action, tt.input, nil)
			if codeOf(err) != envelope.CodeValidation {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestNotesRequireIdentityWhenAuthenticated(t *testing.T) {
	f := newNotesFixture(t, true)

	if _, err := f.invoke(t, "list", `{}`, nil); codeOf(err) != envelope.CodeUnauthorized {
		t.Errorf("expected UNAUTHORIZED without identity, got %v", err)
	}

	alice := &auth.Identity{Subject: "alice"}
	bob := &auth.Identity{Subject: "bob"}
	if _, err := f.invoke(t, "set", `{"key":"k","value":"a"}`, alice); err != nil {
		t.Fatalf("set as alice: %v", err)
	}
	if _, err := f.invoke(t, "get", `{"key":"k"}`, bob); codeOf(err) != envelope.CodeNotFound {
		t.Errorf("bob must not see alice's note, got %v", err)
	}
}

func TestNotesBroadcastChanges(t *testing.T) {
	f := newNotesFixture(t, false)

	if _, err := f.invoke(t, "set", `{"key":"k","value":"v"}`, nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := f.invoke(t, "delete", `{"key":"k"}`, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.invoke(t, "get", `{"key":"k"}`, nil); err == nil {
		t.Fatal("expected get to fail after delete")
	}

	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	if len(f.sessions.frames) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(f.sessions.frames))
	}
	var ops []string
	for _, fr := range f.sessions.frames {
		frame, ok := fr.(*session.Frame)
		if !ok {
			t.Fatalf("unexpected frame type %T", fr)
		}
		if frame.Type != MsgNotesChanged || frame.Agent != NotesAgentName {
			t.Errorf("unexpected frame: %+v", frame)
		}
		ops = append(ops, frame.Payload.(ChangedPayload).Op)
	}
	if ops[0] != "set" || ops[1] != "delete" {
		t.Errorf("unexpected ops: %v", ops)
	}
}

func TestNotesChangesStayWithOwner(t *testing.T) {
	f := newNotesFixture(t, true)
	alice := &auth.Identity{Subject: "alice"}
	bob := &auth.Identity{Subject: "bob"}

	if _, err := f.invoke(t, "set", `{"key":"salary-review","value":"v"}`, alice); err != nil {
		t.Fatalf("set as alice: %v", err)
	}
	if _, err := f.invoke(t, "delete", `{"key":"salary-review"}`, alice); err != nil {
		t.Fatalf("delete as alice: %v", err)
	}
	if _, err := f.invoke(t, "set", `{"key":"k","value":"v"}`, bob); err != nil {
		t.Fatalf("set as bob: %v", err)
	}

	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	if f.sessions.global != 0 {
		t.Errorf("note changes must not reach every session, got %d global broadcasts", f.sessions.global)
	}
	want := []string{"alice", "alice", "bob"}
	if len(f.sessions.subjects) != len(want) {
		t.Fatalf("expected %d scoped broadcasts, got %v", len(want), f.sessions.subjects)
	}
	for i, sub := range want {
		if f.sessions.subjects[i] != sub {
			t.Errorf("broadcast %d: expected subject %q, got %q", i, sub, f.sessions.subjects[i])
		}
	}
}

func TestNotesWatchMessage(t *testing.T) {
	f := newNotesFixture(t, false)
	for _, key := range []string{"b", "a"} {
		if _, err := f.invoke(t, "set", `{"key":"`+key+`","value":"v"}`, nil); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	reply, err := f.agent.HandleMessage(context.Background(), &agent.Message{Type: MsgNotesWatch})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply.Type != MsgNotesKeys {
		t.Errorf("expected %s, got %s", MsgNotesKeys, reply.Type)
	}
	keys := reply.Payload.(*KeyList)
	if keys.Count != 2 || keys.Keys[0] != "a" || keys.Keys[1] != "b" {
		t.Errorf("unexpected keys: %+v", keys)
	}

	reply, err = f.agent.HandleMessage(context.Background(), &agent.Message{Type: "ping"})
	if err != nil || reply.Type != "pong" {
		t.Errorf("expected pong, got %+v, %v", reply, err)
	}
}
