package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/comigor/seijitalk-go/internal/chat"
	"github.com/comigor/seijitalk-go/internal/logger"
	"github.com/comigor/seijitalk-go/internal/session"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Keyword string `json:"keyword,omitempty"`
}

type wsOutbound struct {
	Type     string            `json:"type"`
	Session  *session.Snapshot `json:"session,omitempty"`
	Accepted *bool             `json:"accepted,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.serveWS(w, r, sess)
}

// handleOwnedWS creates a session that lives exactly as long as the socket.
func (s *Server) handleOwnedWS(w http.ResponseWriter, r *http.Request) {
	var opts []session.Option
	if m := r.URL.Query().Get("mode"); m != "" {
		mode, err := chat.ParseMode(m)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		opts = append(opts, session.WithMode(mode))
	}
	sess := s.reg.Create(opts...)
	defer func() {
		if err := s.reg.Delete(sess.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
			logger.L.Warn("discard socket session", "session_id", sess.ID(), "error", err)
		}
	}()
	s.serveWS(w, r, sess)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := logger.Session(sess.ID())
	log.Debug("socket attached")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		log.Warn("ws set read deadline failed", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	snapshots, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	writeCh := make(chan wsOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		// unblocks the reader below when the writer gives up first
		defer conn.Close()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			var out wsOutbound
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					// session discarded elsewhere
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
						time.Now().Add(wsWriteWait))
					return
				}
				out = wsOutbound{Type: "snapshot", Session: &snap}
			case out = <-writeCh:
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}()

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			log.Debug("socket detached", "reason", err)
			return
		}
		s.dispatchWS(ctx, sess, in, writeCh)
	}
}

func (s *Server) dispatchWS(ctx context.Context, sess *session.Session, in wsInbound, writeCh chan wsOutbound) {
	switch strings.ToLower(strings.TrimSpace(in.Type)) {
	case "":
		pushWS(writeCh, wsError("invalid_argument", "type is required"))
	case "ping":
		pushWS(writeCh, wsOutbound{Type: "pong"})
	case "draft":
		sess.SetDraft(in.Text)
	case "mode":
		mode, err := chat.ParseMode(in.Mode)
		if err != nil {
			pushWS(writeCh, wsError("invalid_argument", err.Error()))
			return
		}
		sess.SetMode(mode)
	case "keyword":
		if in.Keyword == "" {
			pushWS(writeCh, wsError("invalid_argument", "keyword is required"))
			return
		}
		sess.SelectKeyword(in.Keyword)
	case "submit":
		text := in.Text
		if text == "" {
			text = sess.Snapshot().Draft
		}
		turn, err := sess.Submit(ctx, text)
		if err != nil {
			var modeErr *chat.InvalidModeError
			if errors.As(err, &modeErr) {
				pushWS(writeCh, wsError("invalid_argument", err.Error()))
			} else {
				pushWS(writeCh, wsError("internal", err.Error()))
			}
			return
		}
		accepted := turn != nil
		pushWS(writeCh, wsOutbound{Type: "submit_ack", Accepted: &accepted})
	default:
		pushWS(writeCh, wsError("invalid_argument", "unsupported type: "+in.Type))
	}
}

func wsError(code, msg string) wsOutbound {
	return wsOutbound{Type: "error", Code: code, Message: msg}
}

// pushWS enqueues out, dropping the oldest queued message when full.
func pushWS(writeCh chan wsOutbound, out wsOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
