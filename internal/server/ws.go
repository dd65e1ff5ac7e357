package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/groblegark/coop/internal/bus"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/session"
	"github.com/groblegark/coop/internal/wire"
)

const wsWriteTimeout = 10 * time.Second

// subsFromQuery resolves the subscription set from mode= or subscribe=.
func subsFromQuery(r *http.Request) []string {
	if list := r.URL.Query().Get("subscribe"); list != "" {
		var kinds []string
		for _, k := range strings.Split(list, ",") {
			switch strings.TrimSpace(k) {
			case bus.SubPTY:
				kinds = append(kinds, bus.SubPTY)
			case bus.SubState:
				kinds = append(kinds, bus.SubState)
			case bus.SubScreen:
				kinds = append(kinds, bus.SubScreen)
			}
		}
		if len(kinds) > 0 {
			return kinds
		}
	}
	switch r.URL.Query().Get("mode") {
	case "raw":
		return []string{bus.SubPTY}
	case "screen":
		return []string{bus.SubScreen, bus.SubState}
	case "state":
		return []string{bus.SubState}
	default: // "all" and unset
		return []string{bus.SubPTY, bus.SubState, bus.SubScreen}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("ws accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(512 * 1024)

	ctx := r.Context()
	authed := s.authed(r)
	kinds := subsFromQuery(r)

	// A pty subscriber receives the retained ring as its replay prefix,
	// seeded atomically against the live broadcast stream.
	sub := s.sess.Bus.SubscribeWithReplay(kinds, 0, func() ([]byte, int64) {
		data, start := s.sess.Ring().Snapshot()
		return data, start + int64(len(data))
	})
	defer s.sess.Bus.Unsubscribe(sub)

	// Writer: drains the subscriber queue onto the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Failed():
				frame, _ := json.Marshal(wire.ErrorMsg{
					Type: wire.TypeError, Code: wire.CodeInternal,
					Message: "subscriber queue overflow",
				})
				writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
				conn.Write(writeCtx, websocket.MessageText, frame)
				cancel()
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			case frame := <-sub.Frames():
				writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
				err := conn.Write(writeCtx, websocket.MessageText, frame)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}()

	// Reader loop.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		s.handleWSMessage(sub, &authed, env.Type, data)
	}

	<-done
}

// sendWSError enqueues an error frame on the subscriber's queue so ordering
// with other frames is preserved.
func sendWSError(sub *bus.Subscriber, code, msg string) {
	frame, _ := json.Marshal(wire.ErrorMsg{Type: wire.TypeError, Code: code, Message: msg})
	sub.Enqueue(frame)
}

func (s *Server) handleWSMessage(sub *bus.Subscriber, authed *bool, kind string, data []byte) {
	switch kind {
	case wire.TypePing:
		frame, _ := json.Marshal(wire.Envelope{Type: wire.TypePong})
		sub.Enqueue(frame)

	case wire.TypeAuth:
		var msg wire.Auth
		json.Unmarshal(data, &msg)
		if s.tokenOK(msg.Token) {
			*authed = true
		} else {
			sendWSError(sub, wire.CodeUnauthorized, "invalid token")
		}

	case wire.TypeScreenRequest:
		frame, _ := json.Marshal(screenFrame(s.sess))
		sub.Enqueue(frame)

	case wire.TypeStateRequest:
		state, seq, prompt := s.sess.State()
		cat, detail := s.sess.ErrorInfo()
		frame, _ := json.Marshal(wire.StateChange{
			Type: wire.TypeStateChange, Prev: state, Next: state, Seq: seq,
			Prompt: prompt, ErrorCategory: cat, ErrorDetail: detail,
		})
		sub.Enqueue(frame)

	case wire.TypeReplayRequest:
		var msg wire.ReplayReq
		if err := json.Unmarshal(data, &msg); err != nil || msg.Offset < 0 {
			sendWSError(sub, wire.CodeBadRequest, "invalid replay offset")
			return
		}
		bytes, next, _ := s.sess.Ring().Read(msg.Offset, 0)
		sub.SendReplay(bytes, next)

	case wire.TypeInput:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.Input
		json.Unmarshal(data, &msg)
		if err := s.sess.WriteInput(msg.Text, msg.Enter); err != nil {
			sendWSError(sub, wire.CodeExited, err.Error())
		}

	case wire.TypeInputRaw:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.InputRaw
		json.Unmarshal(data, &msg)
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			sendWSError(sub, wire.CodeBadRequest, "data is not valid base64")
			return
		}
		if err := s.sess.WriteRaw(raw); err != nil {
			sendWSError(sub, wire.CodeExited, err.Error())
		}

	case wire.TypeKeys:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.Keys
		json.Unmarshal(data, &msg)
		var raw []byte
		for _, name := range msg.Keys {
			b, ok := wire.KeyBytes(name)
			if !ok {
				sendWSError(sub, wire.CodeBadRequest, "unknown key "+name)
				return
			}
			raw = append(raw, b...)
		}
		if err := s.sess.WriteRaw(raw); err != nil {
			sendWSError(sub, wire.CodeExited, err.Error())
		}

	case wire.TypeResize:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.ResizeMsg
		json.Unmarshal(data, &msg)
		if msg.Cols <= 0 || msg.Rows <= 0 {
			sendWSError(sub, wire.CodeBadRequest, "cols and rows must be > 0")
			return
		}
		if err := s.sess.Resize(msg.Cols, msg.Rows); err != nil {
			sendWSError(sub, wire.CodeExited, err.Error())
		}

	case wire.TypeNudge:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.Nudge
		json.Unmarshal(data, &msg)
		if err := s.sess.Nudge(msg.Message); err != nil {
			sendWSError(sub, wire.CodeExited, err.Error())
		}

	case wire.TypeRespond:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.Respond
		json.Unmarshal(data, &msg)
		if err := s.sess.Respond(msg); err != nil {
			sendWSError(sub, wire.CodeNoPrompt, err.Error())
		}

	case wire.TypeSignal:
		if !*authed {
			sendWSError(sub, wire.CodeUnauthorized, "authenticate before writing")
			return
		}
		var msg wire.SignalMsg
		json.Unmarshal(data, &msg)
		if _, err := session.SignalFromName(msg.Name); err != nil {
			sendWSError(sub, wire.CodeBadRequest, err.Error())
			return
		}
		if err := s.sess.Signal(msg.Name); err != nil {
			sendWSError(sub, wire.CodeExited, err.Error())
		}
	}
}

func screenFrame(sess *session.Session) wire.ScreenMsg {
	snap := sess.Screen()
	return wire.ScreenMsg{
		Type:      wire.TypeScreen,
		Lines:     snap.Lines,
		ANSI:      snap.ANSI,
		Cols:      snap.Cols,
		Rows:      snap.Rows,
		AltScreen: snap.AltScreen,
		CursorRow: snap.CursorRow,
		CursorCol: snap.CursorCol,
		Seq:       snap.Seq,
	}
}
