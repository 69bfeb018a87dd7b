// Package service exposes the four conversation operations over HTTP. The
// boundary keeps busy, not-found, and provider failures distinguishable so
// game clients can tell "retry later" from "conversation is gone" from
// "backend is broken".
package service

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sweetpotato0/chatforge/conversation"
	"github.com/sweetpotato0/chatforge/errors"
	"github.com/sweetpotato0/chatforge/message"
	"github.com/sweetpotato0/chatforge/personality"
	"github.com/sweetpotato0/chatforge/pkg/logging"
)

// Server is the HTTP boundary over a conversation manager.
type Server struct {
	manager *conversation.Manager
	apiKey  string
	logger  *slog.Logger
	engine  *gin.Engine
}

// NewServer builds the router. Every route sits behind the endpoint API key.
func NewServer(manager *conversation.Manager, apiKey string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		manager: manager,
		apiKey:  apiKey,
		logger:  logging.WithComponent("http"),
		engine:  engine,
	}

	group := engine.Group("/conversation", s.authorize)
	group.POST("/create", s.create)
	group.POST("/send", s.send)
	group.POST("/update", s.update)
	group.POST("/finish", s.finish)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) authorize(c *gin.Context) {
	key := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if key == "" || key != s.apiKey {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

type createRequest struct {
	Personality      personality.Personality `json:"personality" binding:"required"`
	Functions        []personality.Function  `json:"functions"`
	Users            []message.User          `json:"users" binding:"required"`
	PersistenceToken string                  `json:"persistenceToken"`
}

func (s *Server) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.manager.Create(c.Request.Context(), req.Personality, req.Functions, req.Users, req.PersistenceToken)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, created)
	case errors.Is(err, errors.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternal.Error()})
	}
}

type sendRequest struct {
	Secret  string                 `json:"secret" binding:"required"`
	Message string                 `json:"message" binding:"required"`
	Context []message.ContextEntry `json:"context"`
	UserID  string                 `json:"userId" binding:"required"`
}

func (s *Server) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.manager.GetBySecret(c.Request.Context(), req.Secret)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	resp, err := conv.Send(c.Request.Context(), req.Message, req.Context, req.UserID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, errors.ErrConversationBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "conversation busy, retry later"})
	default:
		s.logger.Error("send failed", "conversation", conv.ID, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "provider failed to produce a response"})
	}
}

type updateRequest struct {
	Secret string         `json:"secret" binding:"required"`
	Users  []message.User `json:"users" binding:"required"`
}

func (s *Server) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.manager.GetBySecret(c.Request.Context(), req.Secret)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err := conv.Update(c.Request.Context(), req.Users); err != nil {
		s.logger.Error("update failed", "conversation", conv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternal.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type finishRequest struct {
	Secret string `json:"secret" binding:"required"`
}

func (s *Server) finish(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.manager.GetBySecret(c.Request.Context(), req.Secret)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err := conv.Finish(c.Request.Context()); err != nil {
		s.logger.Error("finish failed", "conversation", conv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternal.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
