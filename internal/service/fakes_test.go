package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/bus"
	"github.com/cloudfly/chat-relay/internal/model"
)

type published struct {
	Room  string
	Event bus.Event
}

type fakeBus struct {
	mu        sync.Mutex
	published []published
	failRooms map[string]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{failRooms: make(map[string]bool)}
}

func (b *fakeBus) Publish(_ context.Context, room string, ev bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failRooms[room] {
		return errors.New("bus unavailable")
	}
	b.published = append(b.published, published{Room: room, Event: ev})
	return nil
}

func (b *fakeBus) Subscribe(string, bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) Healthy() bool { return true }
func (b *fakeBus) Close() error  { return nil }

func (b *fakeBus) events() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBus) named(name string) []published {
	var out []published
	for _, p := range b.events() {
		if p.Event.Name == name {
			out = append(out, p)
		}
	}
	return out
}

type emitted struct {
	Event   string
	Payload any
}

type fakeSession struct {
	id       string
	identity auth.Identity
	token    string
	joinErr  error

	mu      sync.Mutex
	emitted []emitted
	rooms   map[string]bool
}

func newFakeSession(id string, identity auth.Identity) *fakeSession {
	return &fakeSession{id: id, identity: identity, token: "tok-" + id, rooms: make(map[string]bool)}
}

func (s *fakeSession) ID() string              { return s.id }
func (s *fakeSession) Identity() auth.Identity { return s.identity }
func (s *fakeSession) Token() string           { return s.token }

func (s *fakeSession) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, emitted{Event: event, Payload: payload})
}

func (s *fakeSession) Join(room string) error {
	if s.joinErr != nil {
		return s.joinErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = true
	return nil
}

func (s *fakeSession) Leave(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	return nil
}

func (s *fakeSession) events() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.emitted...)
}

func (s *fakeSession) joined(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[room]
}

type typingCall struct {
	Token          string
	ConversationID model.ID
	IsTyping       bool
}

type fakeAPI struct {
	mu       sync.Mutex
	sendResp json.RawMessage
	sendErr  error
	readErr  error
	sent     []*model.CreateMessageRequest
	tokens   []string
	read     []json.RawMessage
	typing   []typingCall

	// gate, when set, holds every SendMessage until it is closed.
	gate chan struct{}
}

func (a *fakeAPI) SendMessage(_ context.Context, token string, req *model.CreateMessageRequest) (json.RawMessage, error) {
	a.mu.Lock()
	a.sent = append(a.sent, req)
	a.tokens = append(a.tokens, token)
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return a.sendResp, nil
}

func (a *fakeAPI) MarkAsRead(_ context.Context, _ string, ids json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.read = append(a.read, ids)
	return a.readErr
}

func (a *fakeAPI) UpdateTypingStatus(_ context.Context, token string, conversationID model.ID, isTyping bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.typing = append(a.typing, typingCall{Token: token, ConversationID: conversationID, IsTyping: isTyping})
	return nil
}

func (a *fakeAPI) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}
