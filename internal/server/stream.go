package server

import (
	"context"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/stream"
)

// errorRecord is sent in place of the final record when a turn fails.
func errorRecord(threadID string, err error) stream.ClientEvent {
	return stream.ClientEvent{
		"type":       "error",
		"error_type": errors.Class(err),
		"content":    err.Error(),
		"thread_id":  threadID,
	}
}

// relay forwards a turn's events to send and returns the terminating
// record. When send fails the remaining events are drained so the turn
// can finish; the caller is expected to cancel its context.
func (s *Server) relay(ts *orchestrator.TurnStream, send func(any) error) any {
	var sendErr error
	for env := range ts.Events() {
		if sendErr != nil {
			continue
		}
		if env.Origin == stream.OriginLifecycle && env.Lifecycle != nil && !stream.Forwarded(env.Lifecycle.EventType()) {
			continue
		}
		ce, err := stream.Encode(env)
		if err != nil {
			s.logger.Warn("encode stream event", "error", err.Error())
			continue
		}
		if err := send(ce); err != nil {
			sendErr = err
			s.logger.Debug("client went away", "thread_id", ts.ThreadID, "error", err.Error())
		}
	}

	res, err := ts.Wait()
	if err != nil {
		return errorRecord(ts.ThreadID, err)
	}
	return stream.Final{ThreadID: res.ThreadID, FinalOutput: res.FinalOutput}
}

// handleChatStream answers with server-sent events: one data frame per
// client event, the final record, then an "event: done" frame. The request
// context ends the turn when the client disconnects.
func (s *Server) handleChatStream(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	ts, err := s.orch.Stream(ctx, req.request())
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	send := func(payload any) error {
		if err := stream.WriteSSE(c.Writer, payload); err != nil {
			cancel()
			return err
		}
		c.Writer.Flush()
		return nil
	}

	last := s.relay(ts, send)
	if ctx.Err() != nil {
		return
	}
	if err := send(last); err != nil {
		return
	}
	c.SSEvent("done", "[DONE]")
	c.Writer.Flush()
}

// handleChatWebsocket serves any number of turns over one connection. Each
// inbound text message is a ChatRequest; each turn ends with the final
// record followed by {"type":"done"}.
func (s *Server) handleChatWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read", "error", err.Error())
			}
			return
		}
		if err := s.serveSocketTurn(c.Request.Context(), conn, req); err != nil {
			return
		}
	}
}

func (s *Server) serveSocketTurn(parent context.Context, conn *websocket.Conn, req ChatRequest) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if req.UserQuery == "" || utf8.RuneCountInString(req.UserQuery) > maxQueryLength {
		err := errors.NewValidationError("user_query must be between 1 and 2000 characters").WithField("user_query")
		return conn.WriteJSON(errorRecord(req.ThreadID, err))
	}

	ts, err := s.orch.Stream(ctx, req.request())
	if err != nil {
		return conn.WriteJSON(errorRecord(req.ThreadID, err))
	}

	send := func(payload any) error {
		if err := conn.WriteJSON(payload); err != nil {
			cancel()
			return err
		}
		return nil
	}

	last := s.relay(ts, send)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := send(last); err != nil {
		return err
	}
	return send(stream.ClientEvent{"type": "done", "thread_id": ts.ThreadID})
}
