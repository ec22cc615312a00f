// Package session implements the per-conversation store: the message log, the
// draft, the active mode and the single in-flight resolution.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/qmuntal/stateless"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/resolver"
)

// FSM States
const (
	StateIdle    = "Idle"
	StatePending = "Pending" // a resolution is in flight
)

// FSM Triggers
const (
	triggerSubmit   = "Submit"
	triggerResolved = "Resolved"
)

// ErrClosed is returned by Submit after the session has been torn down.
var ErrClosed = errors.New("session closed")

// KeywordQuestion is the draft produced when a keyword chip is selected.
func KeywordQuestion(keyword string) string {
	return keyword + "とは何ですか？"
}

// Snapshot is an immutable view of a session handed to render surfaces.
type Snapshot struct {
	ID      string         `json:"id"`
	Log     []chat.Message `json:"log"`
	Draft   string         `json:"draft"`
	Mode    chat.Mode      `json:"mode"`
	Pending bool           `json:"pending"`
}

// Option configures a new Session.
type Option func(*Session)

// WithMode sets the initial mode (latest by default).
func WithMode(m chat.Mode) Option {
	return func(s *Session) { s.mode = m }
}

// Session serializes every state transition of one conversation.
type Session struct {
	id       string
	resolver resolver.Resolver
	log      *slog.Logger

	mu     sync.Mutex
	fsm    *stateless.StateMachine
	msgs   []chat.Message
	draft  string
	mode   chat.Mode
	closed bool

	subs    map[int]chan Snapshot
	nextSub int

	inflight sync.WaitGroup
}

// New creates an idle session answering through r.
func New(id string, r resolver.Resolver, opts ...Option) *Session {
	s := &Session{
		id:       id,
		resolver: r,
		log:      logger.Session(id),
		mode:     chat.ModeLatest,
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(triggerSubmit, StatePending)
	// a second send while waiting is dropped, not an error
	fsm.Configure(StatePending).
		Permit(triggerResolved, StateIdle).
		Ignore(triggerSubmit)
	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		s.log.Debug("session transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})
	s.fsm = fsm

	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Submit sends text with the current mode. It is a silent no-op (nil turn,
// nil error) when the trimmed text is empty or a resolution is already in
// flight. An accepted send appends the user message, clears the draft and
// resolves in the background; the returned Turn completes once the assistant
// message has been appended. The resolution is not cancelled with ctx.
func (s *Session) Submit(ctx context.Context, text string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(text) == "" || s.pendingLocked() {
		return nil, nil
	}
	mode := s.mode
	if !mode.Valid() {
		return nil, &chat.InvalidModeError{Mode: mode}
	}

	if err := s.fsm.FireCtx(ctx, triggerSubmit); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	userMsg := chat.NewUserMessage(mode, text)
	s.msgs = append(s.msgs, userMsg)
	s.draft = ""
	s.broadcastLocked()

	turn := newTurn(userMsg)
	s.inflight.Add(1)
	go s.resolve(context.WithoutCancel(ctx), mode, text, turn)

	s.log.Info("message submitted", "mode", mode, "message_id", userMsg.ID)
	return turn, nil
}

func (s *Session) resolve(ctx context.Context, mode chat.Mode, text string, turn *Turn) {
	defer s.inflight.Done()

	msg, err := s.callResolver(ctx, mode, text)
	if err != nil {
		s.log.Error("resolver failed", "mode", mode, "error", err)
		msg = chat.NewFailedMessage(mode, err)
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	if fireErr := s.fsm.Fire(triggerResolved); fireErr != nil {
		s.log.Error("FSM fire error", "error", fireErr)
	}
	s.broadcastLocked()
	s.mu.Unlock()

	turn.complete(msg, err)
}

func (s *Session) callResolver(ctx context.Context, mode chat.Mode, text string) (msg chat.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolver panic: %v", r)
		}
	}()
	return s.resolver.Resolve(ctx, mode, text)
}

// SetDraft replaces the unsent input.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	s.broadcastLocked()
}

// SetMode switches the mode used by the next send. Logged messages keep theirs.
func (s *Session) SetMode(m chat.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.broadcastLocked()
}

// SelectKeyword turns a keyword chip into a glossary question draft. It
// overwrites any unsent draft and does not send.
func (s *Session) SelectKeyword(keyword string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = KeywordQuestion(keyword)
	s.mode = chat.ModeGlossary
	s.broadcastLocked()
}

// Pending reports whether a resolution is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Session) pendingLocked() bool {
	return s.fsm.MustState() == StatePending
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := make([]chat.Message, len(s.msgs))
	copy(msgs, s.msgs)
	return Snapshot{
		ID:      s.id,
		Log:     msgs,
		Draft:   s.draft,
		Mode:    s.mode,
		Pending: s.pendingLocked(),
	}
}

// Subscribe returns a channel receiving the current snapshot and one after
// every change. A slow reader only sees the latest snapshot. The channel is
// closed by the returned cancel function or when the session closes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

func (s *Session) broadcastLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		pushLatest(ch, snap)
	}
}

// pushLatest replaces a stale buffered snapshot with snap.
func pushLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Close tears the session down and closes every subscription. A resolution
// already in flight still completes but is no longer broadcast.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.log.Info("session closed", "messages", len(s.msgs))
}

// Wait blocks until no resolution is in flight.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Turn tracks one accepted send.
type Turn struct {
	User chat.Message

	done  chan struct{}
	reply chat.Message
	err   error
}

func newTurn(user chat.Message) *Turn {
	return &Turn{User: user, done: make(chan struct{})}
}

func (t *Turn) complete(reply chat.Message, err error) {
	t.reply = reply
	t.err = err
	close(t.done)
}

// Done is closed once the assistant message has been appended.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait returns the appended assistant message. When resolution failed the
// message is the error-flagged turn and the resolver error is returned too.
func (t *Turn) Wait(ctx context.Context) (chat.Message, error) {
	select {
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	case <-t.done:
		return t.reply, t.err
	}
}
