// Package chat holds the conversation types shared by the session store, the
// resolvers and the render hosts.
package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode selects how an utterance is answered.
type Mode string

const (
	ModeLatest   Mode = "latest"   // current-events lookup
	ModeGlossary Mode = "glossary" // term explanation
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeLatest, ModeGlossary}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	return m == ModeLatest || m == ModeGlossary
}

// ParseMode converts a user supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", &InvalidModeError{Mode: m}
	}
	return m, nil
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a reference attached to a latest-mode answer.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message is a single entry of a conversation log. Mode and Role are fixed at
// creation time.
type Message struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	Role      Role      `json:"role"`
	Text      string    `json:"message"`
	Sources   []Source  `json:"sources,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Failed reports whether the message records a failed assistant turn.
func (m Message) Failed() bool {
	return m.Error != ""
}

// NewID returns a unique id whose lexical order follows creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewUserMessage stamps a user utterance with the given mode.
func NewUserMessage(mode Mode, text string) Message {
	return Message{
		ID:        NewID(),
		Mode:      mode,
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage builds an assistant answer. Sources are kept only for
// latest mode and keywords only for glossary mode.
func NewAssistantMessage(mode Mode, text string, sources []Source, keywords []string) Message {
	msg := Message{
		ID:        NewID(),
		Mode:      mode,
		Role:      RoleAssistant,
		Text:      text,
		CreatedAt: time.Now(),
	}
	switch mode {
	case ModeLatest:
		msg.Sources = sources
	case ModeGlossary:
		msg.Keywords = keywords
	}
	return msg
}

// failedTurnText is shown in place of an answer when resolution fails.
const failedTurnText = "回答を取得できませんでした。時間をおいて再度お試しください。"

// NewFailedMessage records a resolver failure as an assistant turn so that it
// can be rendered inline in the log.
func NewFailedMessage(mode Mode, err error) Message {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Message{
		ID:        NewID(),
		Mode:      mode,
		Role:      RoleAssistant,
		Text:      failedTurnText,
		Error:     reason,
		CreatedAt: time.Now(),
	}
}

// InvalidModeError is returned when a mode outside Modes reaches a resolver or
// the session store.
type InvalidModeError struct {
	Mode Mode
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid mode %q", string(e.Mode))
}
