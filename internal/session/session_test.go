package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/resolver"
)

// gatedResolver blocks every call until release is closed (or a value is sent)
// and records what it was asked.
type gatedResolver struct {
	mu      sync.Mutex
	calls   []string
	release chan struct{}

	ResolveFunc func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error)
}

func newGated() *gatedResolver {
	return &gatedResolver{release: make(chan struct{})}
}

func (g *gatedResolver) Resolve(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
	g.mu.Lock()
	g.calls = append(g.calls, text)
	g.mu.Unlock()

	<-g.release
	if g.ResolveFunc != nil {
		return g.ResolveFunc(ctx, mode, text)
	}
	return resolver.NewStub(0).Resolve(ctx, mode, text)
}

func (g *gatedResolver) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func waitTurn(t *testing.T, turn *Turn) (chat.Message, error) {
	t.Helper()
	require.NotNil(t, turn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return turn.Wait(ctx)
}

func TestSubmit_LatestScenario(t *testing.T) {
	g := newGated()
	s := New("s1", g)
	s.SetDraft("誰が首相？")

	turn, err := s.Submit(context.Background(), "誰が首相？")
	require.NoError(t, err)
	require.NotNil(t, turn)

	// accepted: user message only, draft cleared, pending
	snap := s.Snapshot()
	require.Len(t, snap.Log, 1)
	require.True(t, snap.Pending)
	require.Empty(t, snap.Draft)
	require.Equal(t, chat.RoleUser, snap.Log[0].Role)
	require.Equal(t, "誰が首相？", snap.Log[0].Text)
	require.Equal(t, chat.ModeLatest, snap.Log[0].Mode)
	require.Equal(t, snap.Log[0], turn.User)

	close(g.release)
	reply, err := waitTurn(t, turn)
	require.NoError(t, err)

	snap = s.Snapshot()
	require.False(t, snap.Pending)
	require.Empty(t, snap.Draft)
	require.Len(t, snap.Log, 2)
	require.Equal(t, chat.RoleAssistant, snap.Log[1].Role)
	require.Equal(t, chat.ModeLatest, snap.Log[1].Mode)
	require.NotEmpty(t, snap.Log[1].Sources)
	require.Empty(t, snap.Log[1].Keywords)
	require.Equal(t, reply, snap.Log[1])
	require.Less(t, snap.Log[0].ID, snap.Log[1].ID)
}

func TestSubmit_EmptyIsNoop(t *testing.T) {
	g := newGated()
	s := New("s1", g)
	s.SetDraft("keep me")

	for _, text := range []string{"", " ", "\t\n", "　"} {
		turn, err := s.Submit(context.Background(), text)
		require.NoError(t, err)
		require.Nil(t, turn)
	}

	snap := s.Snapshot()
	require.Empty(t, snap.Log)
	require.Equal(t, "keep me", snap.Draft)
	require.False(t, snap.Pending)
	require.Empty(t, g.Calls())
}

func TestSubmit_WhilePendingIsNoop(t *testing.T) {
	g := newGated()
	s := New("s1", g)

	first, err := s.Submit(context.Background(), "一つ目")
	require.NoError(t, err)
	require.NotNil(t, first)

	s.SetDraft("二つ目")
	second, err := s.Submit(context.Background(), "二つ目")
	require.NoError(t, err)
	require.Nil(t, second)

	snap := s.Snapshot()
	require.Len(t, snap.Log, 1)
	require.Equal(t, "二つ目", snap.Draft, "an ignored send keeps the draft")

	close(g.release)
	_, err = waitTurn(t, first)
	require.NoError(t, err)
	s.Wait()

	require.Equal(t, []string{"一つ目"}, g.Calls())
	require.Len(t, s.Snapshot().Log, 2)
}

func TestSubmit_SequentialTurnsKeepOrder(t *testing.T) {
	s := New("s1", resolver.NewStub(0))

	texts := []string{"a", "b", "c"}
	for i, text := range texts {
		if i%2 == 1 {
			s.SetMode(chat.ModeGlossary)
		} else {
			s.SetMode(chat.ModeLatest)
		}
		turn, err := s.Submit(context.Background(), text)
		require.NoError(t, err)
		_, err = waitTurn(t, turn)
		require.NoError(t, err)
	}

	log := s.Snapshot().Log
	require.Len(t, log, 2*len(texts))
	for i, text := range texts {
		user, assistant := log[2*i], log[2*i+1]
		require.Equal(t, chat.RoleUser, user.Role)
		require.Equal(t, text, user.Text)
		require.Equal(t, chat.RoleAssistant, assistant.Role)
		require.Equal(t, user.Mode, assistant.Mode)
		require.Equal(t, assistant.Mode == chat.ModeLatest, len(assistant.Sources) > 0)
		require.Equal(t, assistant.Mode == chat.ModeGlossary, len(assistant.Keywords) > 0)
	}
}

func TestSubmit_InvalidMode(t *testing.T) {
	g := newGated()
	s := New("s1", g)
	s.SetMode(chat.Mode("weather"))
	s.SetDraft("x")

	turn, err := s.Submit(context.Background(), "x")
	require.Nil(t, turn)
	var modeErr *chat.InvalidModeError
	require.ErrorAs(t, err, &modeErr)
	require.Equal(t, chat.Mode("weather"), modeErr.Mode)

	snap := s.Snapshot()
	require.Empty(t, snap.Log)
	require.Equal(t, "x", snap.Draft)
	require.False(t, snap.Pending)
	require.Empty(t, g.Calls())
}

func TestSubmit_ResolverFailureIsAFailedTurn(t *testing.T) {
	boom := errors.New("upstream unavailable")
	calls := 0
	s := New("s1", resolver.Func(func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
		calls++
		if calls == 1 {
			return chat.Message{}, boom
		}
		return resolver.NewStub(0).Resolve(ctx, mode, text)
	}))

	turn, err := s.Submit(context.Background(), "誰が首相？")
	require.NoError(t, err)
	reply, err := waitTurn(t, turn)
	require.ErrorIs(t, err, boom)
	require.True(t, reply.Failed())

	snap := s.Snapshot()
	require.False(t, snap.Pending)
	require.Len(t, snap.Log, 2)
	require.Equal(t, chat.RoleAssistant, snap.Log[1].Role)
	require.Equal(t, "upstream unavailable", snap.Log[1].Error)

	// still usable
	turn, err = s.Submit(context.Background(), "もう一度")
	require.NoError(t, err)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)
	require.Len(t, s.Snapshot().Log, 4)
}

func TestSubmit_ResolverPanicIsAFailedTurn(t *testing.T) {
	s := New("s1", resolver.Func(func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
		panic("nil map")
	}))

	turn, err := s.Submit(context.Background(), "x")
	require.NoError(t, err)
	reply, err := waitTurn(t, turn)
	require.ErrorContains(t, err, "nil map")
	require.True(t, reply.Failed())
	require.False(t, s.Pending())
}

func TestSubmit_NotCancelledWithRequestContext(t *testing.T) {
	g := newGated()
	s := New("s1", g)

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := s.Submit(ctx, "x")
	require.NoError(t, err)
	cancel()

	close(g.release)
	reply, err := waitTurn(t, turn)
	require.NoError(t, err)
	require.False(t, reply.Failed())
}

func TestSelectKeyword(t *testing.T) {
	s := New("s1", resolver.NewStub(0))
	require.Equal(t, chat.ModeLatest, s.Snapshot().Mode)
	s.SetDraft("unsent text")

	s.SelectKeyword("与党")

	snap := s.Snapshot()
	require.Equal(t, chat.ModeGlossary, snap.Mode)
	require.Contains(t, snap.Draft, "与党")
	require.Equal(t, "与党とは何ですか？", snap.Draft)
	require.Empty(t, snap.Log, "keyword selection does not send")
	require.False(t, snap.Pending)
}

func TestSelectKeyword_FromGlossary(t *testing.T) {
	s := New("s1", resolver.NewStub(0))
	s.SetMode(chat.ModeGlossary)
	s.SelectKeyword("内閣")

	snap := s.Snapshot()
	require.Equal(t, chat.ModeGlossary, snap.Mode)
	require.Equal(t, "内閣とは何ですか？", snap.Draft)
}

func TestSetMode_KeepsLoggedModes(t *testing.T) {
	s := New("s1", resolver.NewStub(0), WithMode(chat.ModeGlossary))
	turn, err := s.Submit(context.Background(), "与党")
	require.NoError(t, err)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)

	s.SetMode(chat.ModeLatest)
	snap := s.Snapshot()
	require.Equal(t, chat.ModeLatest, snap.Mode)
	for _, m := range snap.Log {
		require.Equal(t, chat.ModeGlossary, m.Mode)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := New("s1", resolver.NewStub(0))
	turn, err := s.Submit(context.Background(), "x")
	require.NoError(t, err)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Log[0].Text = "tampered"
	require.Equal(t, "x", s.Snapshot().Log[0].Text)
}

func TestSubscribe(t *testing.T) {
	g := newGated()
	s := New("s1", g)

	ch, cancel := s.Subscribe()
	defer cancel()

	initial := <-ch
	require.Equal(t, "s1", initial.ID)
	require.Empty(t, initial.Log)

	s.SetDraft("誰")
	require.Equal(t, "誰", (<-ch).Draft)

	turn, err := s.Submit(context.Background(), "誰が首相？")
	require.NoError(t, err)
	accepted := <-ch
	require.True(t, accepted.Pending)
	require.Len(t, accepted.Log, 1)

	close(g.release)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)
	resolved := <-ch
	require.False(t, resolved.Pending)
	require.Len(t, resolved.Log, 2)
}

func TestSubscribe_SlowReaderSeesLatest(t *testing.T) {
	s := New("s1", resolver.NewStub(0))
	ch, cancel := s.Subscribe()
	defer cancel()

	s.SetDraft("a")
	s.SetDraft("ab")
	s.SetDraft("abc")

	require.Equal(t, "abc", (<-ch).Draft)
	select {
	case snap := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", snap)
	default:
	}
}

func TestSubscribe_CancelAndClose(t *testing.T) {
	s := New("s1", resolver.NewStub(0))

	ch1, cancel1 := s.Subscribe()
	<-ch1
	cancel1()
	cancel1()
	_, ok := <-ch1
	require.False(t, ok)

	ch2, cancel2 := s.Subscribe()
	defer cancel2()
	<-ch2
	s.Close()
	_, ok = <-ch2
	require.False(t, ok)

	ch3, _ := s.Subscribe()
	_, ok = <-ch3
	require.False(t, ok)

	_, err := s.Submit(context.Background(), "x")
	require.ErrorIs(t, err, ErrClosed)
}

func TestClose_InFlightStillCompletes(t *testing.T) {
	g := newGated()
	s := New("s1", g)
	turn, err := s.Submit(context.Background(), "x")
	require.NoError(t, err)

	s.Close()
	close(g.release)
	_, err = waitTurn(t, turn)
	require.NoError(t, err)
	require.Len(t, s.Snapshot().Log, 2)
	require.False(t, s.Pending())
}
