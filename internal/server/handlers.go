package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/state"
)

// maxQueryLength bounds user_query, in characters.
const maxQueryLength = 2000

// ChatRequest is the body of the chat routes.
type ChatRequest struct {
	UserQuery string `json:"user_query" binding:"required,max=2000"`
	ThreadID  string `json:"thread_id"`
}

func (r ChatRequest) request() orchestrator.Request {
	return orchestrator.Request{ThreadID: r.ThreadID, Query: r.UserQuery}
}

// ChatResponse answers POST /chat.
type ChatResponse struct {
	ThreadID       string              `json:"thread_id"`
	ConversationID string              `json:"conversation_id"`
	FinalOutput    string              `json:"final_output"`
	Errors         []state.ErrorRecord `json:"errors"`
}

// WorkerUpdate is the body of PUT /workers/:name.
type WorkerUpdate struct {
	Available *bool `json:"available" binding:"required"`
}

// WorkersUpdate is the body of PUT /workers.
type WorkersUpdate struct {
	Pattern   string `json:"pattern" binding:"required"`
	Available *bool  `json:"available" binding:"required"`
}

func bindChat(c *gin.Context) (ChatRequest, bool) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": "validation"})
		return req, false
	}
	return req, true
}

func (s *Server) handleChat(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok {
		return
	}

	res, err := s.orch.Run(c.Request.Context(), req.request())
	if err != nil {
		s.fail(c, err)
		return
	}

	errs := res.Errors
	if errs == nil {
		errs = []state.ErrorRecord{}
	}
	c.JSON(http.StatusOK, ChatResponse{
		ThreadID:       res.ThreadID,
		ConversationID: res.TurnID,
		FinalOutput:    res.FinalOutput,
		Errors:         errs,
	})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	n, err := s.orch.Checkpoints().Clear(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("cleared conversation history", "threads", n)
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) handleDeleteThread(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := s.orch.Checkpoints().Delete(c.Request.Context(), threadID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "deleted": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"version":           s.version,
		"checkpoint_tier":   s.orch.Checkpoints().Name(),
		"active_queues":     s.orch.Streams().ActiveQueues(),
		"workers_available": len(s.registry.ListAvailable()),
	})
}

func (s *Server) handleListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.registry.Describe()})
}

func (s *Server) handleSetWorker(c *gin.Context) {
	var body WorkerUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": "validation"})
		return
	}

	name := c.Param("name")
	if err := s.registry.SetAvailable(name, *body.Available); err != nil {
		s.fail(c, err)
		return
	}
	if s.events != nil {
		s.events.Publish(event.NewWorkerAvailabilityEvent(name, *body.Available, "api"))
	}

	info, ok := s.registry.Get(name)
	if !ok {
		s.fail(c, errors.NewNotFoundError("worker", name))
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleSetWorkers(c *gin.Context) {
	var body WorkersUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "type": "validation"})
		return
	}

	matched, err := s.registry.SetAvailableMatching(body.Pattern, *body.Available)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.events != nil {
		names, _ := s.registry.Match(body.Pattern)
		for _, name := range names {
			s.events.Publish(event.NewWorkerAvailabilityEvent(name, *body.Available, "api"))
		}
	}
	c.JSON(http.StatusOK, gin.H{"matched": matched, "workers": s.registry.Describe()})
}
