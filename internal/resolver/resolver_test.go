package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/config"
)

func TestStub_ModeShapes(t *testing.T) {
	s := NewStub(0)

	latest, err := s.Resolve(context.Background(), chat.ModeLatest, "誰が首相？")
	require.NoError(t, err)
	require.NoError(t, Check(chat.ModeLatest, latest))
	require.Equal(t, "最新情報モードでの回答例です。", latest.Text)
	require.Len(t, latest.Sources, 2)
	require.Empty(t, latest.Keywords)

	glossary, err := s.Resolve(context.Background(), chat.ModeGlossary, "与党とは？")
	require.NoError(t, err)
	require.NoError(t, Check(chat.ModeGlossary, glossary))
	require.Equal(t, []string{"野党", "議会制民主主義", "内閣", "政党"}, glossary.Keywords)
	require.Empty(t, glossary.Sources)

	require.NotEqual(t, latest.ID, glossary.ID)
}

func TestStub_ReturnsCopies(t *testing.T) {
	s := NewStub(0)
	first, err := s.Resolve(context.Background(), chat.ModeGlossary, "a")
	require.NoError(t, err)
	first.Keywords[0] = "changed"

	second, err := s.Resolve(context.Background(), chat.ModeGlossary, "a")
	require.NoError(t, err)
	require.Equal(t, "野党", second.Keywords[0])
}

func TestStub_InvalidMode(t *testing.T) {
	_, err := NewStub(time.Hour).Resolve(context.Background(), chat.Mode("weather"), "x")
	var modeErr *chat.InvalidModeError
	require.ErrorAs(t, err, &modeErr)
}

func TestStub_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStub(time.Hour).Resolve(ctx, chat.ModeLatest, "x")
	require.ErrorIs(t, err, context.Canceled)
}

func TestStub_Latency(t *testing.T) {
	start := time.Now()
	_, err := NewStub(20*time.Millisecond).Resolve(context.Background(), chat.ModeLatest, "x")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCheck(t *testing.T) {
	src := []chat.Source{{Title: "t", URL: "u"}}
	kw := []string{"k"}

	cases := []struct {
		name string
		mode chat.Mode
		msg  chat.Message
		ok   bool
	}{
		{"latest ok", chat.ModeLatest, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeLatest, Text: "a", Sources: src}, true},
		{"glossary ok", chat.ModeGlossary, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeGlossary, Text: "a", Keywords: kw}, true},
		{"user role", chat.ModeLatest, chat.Message{Role: chat.RoleUser, Mode: chat.ModeLatest, Text: "a", Sources: src}, false},
		{"mode mismatch", chat.ModeLatest, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeGlossary, Text: "a", Sources: src}, false},
		{"empty text", chat.ModeLatest, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeLatest, Text: " ", Sources: src}, false},
		{"latest without sources", chat.ModeLatest, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeLatest, Text: "a"}, false},
		{"latest with keywords", chat.ModeLatest, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeLatest, Text: "a", Sources: src, Keywords: kw}, false},
		{"glossary with sources", chat.ModeGlossary, chat.Message{Role: chat.RoleAssistant, Mode: chat.ModeGlossary, Text: "a", Sources: src, Keywords: kw}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.mode, tc.msg)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrContract)
			}
		})
	}

	var modeErr *chat.InvalidModeError
	require.ErrorAs(t, Check("weather", chat.Message{Role: chat.RoleAssistant, Mode: "weather", Text: "a"}), &modeErr)
}

func TestChecked(t *testing.T) {
	bad := Func(func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
		return chat.NewAssistantMessage(mode, "no sources", nil, nil), nil
	})
	_, err := Checked(bad).Resolve(context.Background(), chat.ModeLatest, "x")
	require.ErrorIs(t, err, ErrContract)

	failing := Func(func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
		return chat.Message{}, errors.New("boom")
	})
	_, err = Checked(failing).Resolve(context.Background(), chat.ModeLatest, "x")
	require.EqualError(t, err, "boom")

	msg, err := Checked(NewStub(0)).Resolve(context.Background(), chat.ModeGlossary, "x")
	require.NoError(t, err)
	require.NotEmpty(t, msg.Keywords)
}

func TestWithTimeout(t *testing.T) {
	r := WithTimeout(NewStub(time.Hour), 10*time.Millisecond)
	_, err := r.Resolve(context.Background(), chat.ModeLatest, "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	s := NewStub(0)
	require.Same(t, s, WithTimeout(s, 0))
}

func TestFromConfig(t *testing.T) {
	r, closeFn, err := FromConfig(context.Background(), config.Config{
		Resolver: config.ResolverConfig{Kind: config.ResolverStub},
	})
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()
	msg, err := r.Resolve(context.Background(), chat.ModeLatest, "x")
	require.NoError(t, err)
	require.NotEmpty(t, msg.Sources)

	_, closeFn, err = FromConfig(context.Background(), config.Config{
		Resolver: config.ResolverConfig{Kind: config.ResolverLLM},
		LLM:      config.LLMConfig{APIKey: "k", Model: "m"},
	})
	require.ErrorContains(t, err, "search backend")
	closeFn()

	r, closeFn, err = FromConfig(context.Background(), config.Config{
		Resolver: config.ResolverConfig{Kind: config.ResolverLLM},
		LLM:      config.LLMConfig{APIKey: "k", Model: "m"},
		Search:   config.SearchConfig{Google: config.GoogleConfig{APIKey: "g", EngineID: "cx"}},
	})
	require.NoError(t, err)
	require.NotNil(t, r)
	closeFn()

	_, _, err = FromConfig(context.Background(), config.Config{Resolver: config.ResolverConfig{Kind: "oracle"}})
	require.Error(t, err)
}
