// ABOUTME: Notes agent: a per-caller key/value notebook served as registry actions
// ABOUTME: Changes are broadcast to WebSocket clients as notes.changed frames

package builtins

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/mcp-dispatch/internal/agent"
	"github.com/2389/mcp-dispatch/internal/envelope"
	"github.com/2389/mcp-dispatch/internal/registry"
	"github.com/2389/mcp-dispatch/internal/schema"
	"github.com/2389/mcp-dispatch/internal/session"
	"github.com/2389/mcp-dispatch/internal/store"
)

// NotesAgentName is the name the notes agent is registered under by the binary.
const NotesAgentName = "notes"

// AnonymousOwner owns notes written while authentication is disabled.
const AnonymousOwner = "anonymous"

// WebSocket message types handled or emitted by the notes agent.
const (
	MsgNotesWatch   = "notes.watch"
	MsgNotesKeys    = "notes.keys"
	MsgNotesChanged = "notes.changed"
)

var (
	keyValueSchema = schema.MustCompile(`{"type":"object","properties":{"key":{"type":"string","minLength":1},"value":{"type":"string"}},"required":["key","value"]}`)
	keySchema      = schema.MustCompile(`{"type":"object","properties":{"key":{"type":"string","minLength":1}},"required":["key"]}`)
	emptySchema    = schema.MustCompile(`{"type":"object"}`)
)

// Notes is the notes agent.
type Notes struct {
	*agent.Base
	store         store.NoteStore
	authenticated bool
}

// NewNotes creates the notes agent on s. With authenticated set, every action
// requires a verified caller.
func NewNotes(s store.NoteStore, authenticated bool) *Notes {
	n := &Notes{
		Base:          agent.NewBase(),
		store:         s,
		authenticated: authenticated,
	}
	n.Handle(MsgNotesWatch, n.watch)
	return n
}

// Actions returns set, get, list and delete.
func (n *Notes) Actions() []registry.Action {
	return []registry.Action{
		{
			Name:          "set",
			Description:   "Store a note",
			Schema:        keyValueSchema,
			Handler:       n.set,
			Authenticated: n.authenticated,
		},
		{
			Name:          "get",
			Description:   "Retrieve a note",
			Schema:        keySchema,
			Handler:       n.get,
			Authenticated: n.authenticated,
		},
		{
			Name:          "list",
			Description:   "List all note keys",
			Schema:        emptySchema,
			Handler:       n.list,
			Authenticated: n.authenticated,
		},
		{
			Name:          "delete",
			Description:   "Delete a note",
			Schema:        keySchema,
			Handler:       n.delete,
			Authenticated: n.authenticated,
		},
	}
}

type noteSetInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type noteKeyInput struct {
	Key string `json:"key"`
}

// KeyList is the result of list and the payload of notes.keys frames.
type KeyList struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

// ChangedPayload is the payload of notes.changed frames.
type ChangedPayload struct {
	Owner string `json:"owner"`
	Key   string `json:"key"`
	Op    string `json:"op"`
}

func (n *Notes) set(ctx context.Context, call *registry.Call) (any, error) {
	var in noteSetInput
	if err := call.Decode(&in); err != nil {
		return nil, err
	}

	owner := ownerOf(call)
	if err := n.store.SetNote(ctx, &store.Note{Owner: owner, Key: in.Key, Value: in.Value}); err != nil {
		return nil, fmt.Errorf("saving note %q: %w", in.Key, err)
	}

	n.announce(call, owner, in.Key, "set")
	return &registry.Result{
		Data:        map[string]string{"key": in.Key, "status": "saved"},
		Explanation: fmt.Sprintf("Saved note %q", in.Key),
	}, nil
}

func (n *Notes) get(ctx context.Context, call *registry.Call) (any, error) {
	var in noteKeyInput
	if err := call.Decode(&in); err != nil {
		return nil, err
	}

	note, err := n.store.GetNote(ctx, ownerOf(call), in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, envelope.Newf(envelope.CodeNotFound, "note not found: %s", in.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading note %q: %w", in.Key, err)
	}

	return map[string]string{"key": note.Key, "value": note.Value}, nil
}

func (n *Notes) list(ctx context.Context, call *registry.Call) (any, error) {
	return n.keys(ctx, ownerOf(call))
}

func (n *Notes) delete(ctx context.Context, call *registry.Call) (any, error) {
	var in noteKeyInput
	if err := call.Decode(&in); err != nil {
		return nil, err
	}

	owner := ownerOf(call)
	err := n.store.DeleteNote(ctx, owner, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, envelope.Newf(envelope.CodeNotFound, "note not found: %s", in.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("deleting note %q: %w", in.Key, err)
	}

	n.announce(call, owner, in.Key, "delete")
	return map[string]string{"key": in.Key, "status": "deleted"}, nil
}

func (n *Notes) watch(ctx context.Context, msg *agent.Message) (*agent.Reply, error) {
	owner := AnonymousOwner
	if msg.Identity != nil {
		owner = msg.Identity.Subject
	}
	keys, err := n.keys(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &agent.Reply{Type: MsgNotesKeys, Payload: keys}, nil
}

func (n *Notes) keys(ctx context.Context, owner string) (*KeyList, error) {
	notes, err := n.store.ListNotes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	keys := make([]string, len(notes))
	for i, note := range notes {
		keys[i] = note.Key
	}
	return &KeyList{Keys: keys, Count: len(keys)}, nil
}

// announce tells the caller's own connections about a change. Other
// subjects never see another notebook's keys.
func (n *Notes) announce(call *registry.Call, owner, key, op string) {
	sessions := n.Env().Sessions
	if sessions == nil {
		return
	}
	var subject string
	if call.Identity != nil {
		subject = call.Identity.Subject
	}
	sent := sessions.BroadcastTo(subject, &session.Frame{
		Type:    MsgNotesChanged,
		Agent:   n.Env().Name,
		Payload: ChangedPayload{Owner: owner, Key: key, Op: op},
	})
	n.Logger().Debug("note change broadcast", "key", key, "op", op, "recipients", sent)
}

func ownerOf(call *registry.Call) string {
	if call.Identity == nil || call.Identity.Subject == "" {
		return AnonymousOwner
	}
	return call.Identity.Subject
}
