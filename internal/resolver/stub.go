package resolver

import (
	"context"
	"time"

	"github.com/comigor/seijitalk-go/internal/chat"
)

// DefaultStubLatency matches the delay of the mocked web client.
const DefaultStubLatency = time.Second

var (
	stubLatestText = "最新情報モードでの回答例です。"
	stubSources    = []chat.Source{
		{Title: "参考記事1", URL: "#"},
		{Title: "参考記事2", URL: "#"},
	}

	stubGlossaryText = "与党とは、議会で多数の議席を占めて、内閣を組織している政党のことです。"
	stubKeywords     = []string{"野党", "議会制民主主義", "内閣", "政党"}
)

// Stub answers every request with fixed content after a fixed delay.
type Stub struct {
	Latency time.Duration
}

// NewStub creates a stub resolver. A negative latency is treated as zero.
func NewStub(latency time.Duration) *Stub {
	return &Stub{Latency: max(latency, 0)}
}

// Resolve implements Resolver.
func (s *Stub) Resolve(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
	if !mode.Valid() {
		return chat.Message{}, &chat.InvalidModeError{Mode: mode}
	}

	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return chat.Message{}, ctx.Err()
		case <-timer.C:
		}
	}

	if mode == chat.ModeLatest {
		return chat.NewAssistantMessage(mode, stubLatestText, append([]chat.Source(nil), stubSources...), nil), nil
	}
	return chat.NewAssistantMessage(mode, stubGlossaryText, nil, append([]string(nil), stubKeywords...)), nil
}
