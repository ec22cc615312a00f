// Package cli runs a conversation session in the terminal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/session"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Underline(true)

	keywordStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

const helpText = `commands:
  /mode [latest|glossary]  show or switch the answer mode
  /kw <n|term>             put a keyword question in the input (glossary mode)
  /help                    show this help
  /quit                    leave`

// prompter is the subset of *liner.State the loop needs.
type prompter interface {
	Prompt(prompt string) (string, error)
	PromptWithSuggestion(prompt, text string, pos int) (string, error)
	AppendHistory(item string)
	Close() error
}

// Chat is an interactive loop over one session.
type Chat struct {
	sess *session.Session
	line prompter
	out  io.Writer

	// keywords offered by the latest glossary answer, for /kw <n>
	keywords []string
}

// NewChat attaches a line editor on the controlling terminal to sess.
func NewChat(sess *session.Session, out io.Writer) *Chat {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &Chat{sess: sess, line: line, out: out}
}

// Close restores the terminal.
func (c *Chat) Close() error {
	return c.line.Close()
}

// Run reads lines until /quit, EOF, Ctrl+C or ctx cancellation.
func (c *Chat) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, labelStyle.Render("SeijiTalk: /help for commands"))
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		input, err := c.readLine()
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return err
		}

		trimmed := strings.TrimSpace(input)
		if strings.HasPrefix(trimmed, "/") {
			if quit := c.command(trimmed); quit {
				return nil
			}
			continue
		}

		c.sess.SetDraft(input)
		if trimmed != "" {
			c.line.AppendHistory(input)
		}
		if err := c.send(ctx, input); err != nil {
			return err
		}
	}
}

func (c *Chat) readLine() (string, error) {
	snap := c.sess.Snapshot()
	prompt := promptStyle.Render(fmt.Sprintf("[%s]> ", snap.Mode))
	if snap.Draft != "" {
		return c.line.PromptWithSuggestion(prompt, snap.Draft, -1)
	}
	return c.line.Prompt(prompt)
}

// send submits text and blocks until the assistant turn lands.
func (c *Chat) send(ctx context.Context, text string) error {
	turn, err := c.sess.Submit(ctx, text)
	if err != nil {
		var modeErr *chat.InvalidModeError
		if errors.As(err, &modeErr) {
			fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
			return nil
		}
		return err
	}
	if turn == nil {
		return nil
	}

	fmt.Fprintln(c.out, labelStyle.Render("…"))
	reply, err := turn.Wait(ctx)
	if err != nil && !reply.Failed() {
		// ctx gone; the turn still lands in the session log
		return nil
	}
	if err != nil {
		logger.Session(c.sess.ID()).Debug("turn failed", "error", err)
	}
	fmt.Fprintln(c.out, RenderMessage(reply))
	if reply.Mode == chat.ModeGlossary && len(reply.Keywords) > 0 {
		c.keywords = reply.Keywords
	}
	return nil
}

// command handles a slash command and reports whether to leave.
func (c *Chat) command(input string) bool {
	name, arg, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "quit", "exit", "q":
		return true
	case "help", "h", "?":
		fmt.Fprintln(c.out, labelStyle.Render(helpText))
	case "mode", "m":
		if arg == "" {
			fmt.Fprintln(c.out, labelStyle.Render("mode: "+string(c.sess.Snapshot().Mode)))
			return false
		}
		mode, err := chat.ParseMode(arg)
		if err != nil {
			fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
			return false
		}
		c.sess.SetMode(mode)
	case "kw", "keyword":
		keyword, err := c.pickKeyword(arg)
		if err != nil {
			fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
			return false
		}
		c.sess.SelectKeyword(keyword)
	default:
		fmt.Fprintln(c.out, errorStyle.Render("unknown command: /"+name))
	}
	return false
}

func (c *Chat) pickKeyword(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /kw <n|term>")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	if n < 1 || n > len(c.keywords) {
		return "", fmt.Errorf("no keyword #%d", n)
	}
	return c.keywords[n-1], nil
}

// RenderMessage formats one log entry for the terminal. Sources are listed as
// titled links; related words are numbered for /kw.
func RenderMessage(m chat.Message) string {
	var b strings.Builder
	if m.Role == chat.RoleUser {
		b.WriteString(labelStyle.Render("you: "))
		b.WriteString(userStyle.Render(m.Text))
		return b.String()
	}

	b.WriteString(labelStyle.Render(fmt.Sprintf("seiji (%s): ", m.Mode)))
	if m.Failed() {
		b.WriteString(errorStyle.Render(m.Text))
		return b.String()
	}
	b.WriteString(assistantStyle.Render(m.Text))

	if len(m.Sources) > 0 {
		b.WriteString("\n" + labelStyle.Render("sources:"))
		for _, src := range m.Sources {
			b.WriteString("\n  - " + sourceStyle.Render(src.Title) + " " + labelStyle.Render("<"+src.URL+">"))
		}
	}
	if len(m.Keywords) > 0 {
		b.WriteString("\n" + labelStyle.Render("related:"))
		for i, kw := range m.Keywords {
			b.WriteString(fmt.Sprintf("  [%d] %s", i+1, keywordStyle.Render(kw)))
		}
	}
	return b.String()
}
