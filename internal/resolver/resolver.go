// Package resolver turns a user utterance and a mode into an assistant message.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comigor/seijitalk-go/internal/chat"
)

// Resolver answers one utterance. Implementations may block on I/O and must
// honour ctx. A latest answer carries sources, a glossary answer carries
// keywords, and any other mode fails with *chat.InvalidModeError.
type Resolver interface {
	Resolve(ctx context.Context, mode chat.Mode, text string) (chat.Message, error)
}

// Func adapts a plain function to Resolver.
type Func func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error)

// Resolve implements Resolver.
func (f Func) Resolve(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
	return f(ctx, mode, text)
}

// ErrContract marks an answer whose shape does not match its mode.
var ErrContract = errors.New("resolver broke the response contract")

// Check verifies that msg is a well-formed answer for mode.
func Check(mode chat.Mode, msg chat.Message) error {
	if msg.Role != chat.RoleAssistant {
		return fmt.Errorf("%w: role %q", ErrContract, msg.Role)
	}
	if msg.Mode != mode {
		return fmt.Errorf("%w: mode %q for a %q request", ErrContract, msg.Mode, mode)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrContract)
	}
	switch mode {
	case chat.ModeLatest:
		if len(msg.Sources) == 0 || len(msg.Keywords) > 0 {
			return fmt.Errorf("%w: latest answers need sources and no keywords", ErrContract)
		}
	case chat.ModeGlossary:
		if len(msg.Keywords) == 0 || len(msg.Sources) > 0 {
			return fmt.Errorf("%w: glossary answers need keywords and no sources", ErrContract)
		}
	default:
		return &chat.InvalidModeError{Mode: mode}
	}
	return nil
}

// Checked rejects answers from next that fail Check.
func Checked(next Resolver) Resolver {
	return Func(func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
		msg, err := next.Resolve(ctx, mode, text)
		if err != nil {
			return chat.Message{}, err
		}
		if err := Check(mode, msg); err != nil {
			return chat.Message{}, err
		}
		return msg, nil
	})
}

// WithTimeout bounds every resolution by d. A zero d returns next unchanged.
func WithTimeout(next Resolver, d time.Duration) Resolver {
	if d <= 0 {
		return next
	}
	return Func(func(ctx context.Context, mode chat.Mode, text string) (chat.Message, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next.Resolve(ctx, mode, text)
	})
}
