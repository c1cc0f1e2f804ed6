// Package handler exposes the chat application over HTTP. It is a thin
// translation layer: identity and payload extraction on the way in, error
// code to status mapping and snapshot rendering on the way out.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/integrations/s3store"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/session"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/usecase"
)

const (
	headerIdentity    = "X-User-Id"
	headerCorrelation = "X-Correlation-Id"
	defaultIdentity   = "anonymous"
)

// Managers hands out the per-identity session manager.
// *session.Registry satisfies this interface.
type Managers interface {
	Manager(ctx context.Context, identity string) (*session.Manager, error)
}

// Asker runs one question end to end. *usecase.Orchestrator satisfies this
// interface.
type Asker interface {
	Ask(ctx context.Context, sessions usecase.Sessions, question string) (usecase.AskOutput, error)
}

// Uploader streams one document into the knowledge base bucket.
// *s3store.Client satisfies this interface.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, progress func(fraction float64)) error
}

// SessionReader fetches one persisted session record.
// *repository.SessionStore satisfies this interface.
type SessionReader interface {
	Get(ctx context.Context, identity, sessionID string) (domain.SessionRecord, bool, error)
}

type Handler struct {
	managers     Managers
	asker        Asker
	uploader     Uploader
	sessions     SessionReader
	objectPrefix string
	logger       *slog.Logger
}

func NewHandler(managers Managers, asker Asker, uploader Uploader, sessions SessionReader, objectPrefix string, logger *slog.Logger) (*Handler, error) {
	if managers == nil {
		return nil, errors.New("handler: managers must not be nil")
	}
	if asker == nil {
		return nil, errors.New("handler: asker must not be nil")
	}
	if uploader == nil {
		return nil, errors.New("handler: uploader must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handler: session reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		managers:     managers,
		asker:        asker,
		uploader:     uploader,
		sessions:     sessions,
		objectPrefix: objectPrefix,
		logger:       logger,
	}, nil
}

// Register mounts all routes on the given engine.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(correlationID())

	api := r.Group("/api")
	api.GET("/chats", h.getChats)
	api.POST("/chats", h.createChat)
	api.DELETE("/chats/:name", h.deleteChat)
	api.PUT("/chats/current", h.setCurrentChat)
	api.POST("/session/reset", h.resetSession)
	api.POST("/ask", h.ask)
	api.POST("/upload", h.upload)
	api.GET("/sessions/:session_id", h.getSession)
}

// correlationID echoes the caller's correlation id or generates one, so a
// user-reported failure can be matched against the logs.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerCorrelation))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerCorrelation, id)
		c.Next()
	}
}

func identityOf(c *gin.Context) string {
	identity := strings.TrimSpace(c.GetHeader(headerIdentity))
	if identity == "" {
		return defaultIdentity
	}
	return identity
}

func (h *Handler) managerOf(c *gin.Context) (*session.Manager, bool) {
	mgr, err := h.managers.Manager(c.Request.Context(), identityOf(c))
	if err != nil {
		h.renderError(c, newInternal("manager_init_error", err))
		return nil, false
	}
	return mgr, true
}

type createChatRequest struct {
	Name string `json:"name"`
}

type setCurrentRequest struct {
	Name string `json:"name"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer  string `json:"answer"`
	Warning string `json:"warning,omitempty"`
}

type createChatResponse struct {
	Created  bool             `json:"created"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type uploadResponse struct {
	Key string `json:"key"`
}

type sessionResponse struct {
	SessionID string      `json:"session_id"`
	ChatName  string      `json:"chat_name"`
	Messages  []domain.QA `json:"messages"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) getChats(c *gin.Context) {
	mgr, ok := h.managerOf(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, mgr.Snapshot())
}

func (h *Handler) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.renderError(c, newInvalid("malformed_body", err))
		return
	}
	mgr, ok := h.managerOf(c)
	if !ok {
		return
	}
	created := mgr.Create(c.Request.Context(), req.Name)
	c.JSON(http.StatusOK, createChatResponse{Created: created, Snapshot: mgr.Snapshot()})
}

func (h *Handler) deleteChat(c *gin.Context) {
	mgr, ok := h.managerOf(c)
	if !ok {
		return
	}
	mgr.Delete(c.Request.Context(), c.Param("name"))
	c.JSON(http.StatusOK, mgr.Snapshot())
}

func (h *Handler) setCurrentChat(c *gin.Context) {
	var req setCurrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.renderError(c, newInvalid("malformed_body", err))
		return
	}
	mgr, ok := h.managerOf(c)
	if !ok {
		return
	}
	mgr.SetCurrent(c.Request.Context(), req.Name)
	c.JSON(http.StatusOK, mgr.Snapshot())
}

func (h *Handler) resetSession(c *gin.Context) {
	mgr, ok := h.managerOf(c)
	if !ok {
		return
	}
	mgr.Reset(c.Request.Context())
	c.JSON(http.StatusOK, mgr.Snapshot())
}

func (h *Handler) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.renderError(c, newInvalid("malformed_body", err))
		return
	}
	mgr, ok := h.managerOf(c)
	if !ok {
		return
	}
	out, err := h.asker.Ask(c.Request.Context(), mgr, req.Question)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, askResponse{Answer: out.Answer, Warning: out.Warning})
}

func (h *Handler) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.renderError(c, newInvalid("missing_file", err))
		return
	}
	src, err := file.Open()
	if err != nil {
		h.renderError(c, newInvalid("unreadable_file", err))
		return
	}
	defer func() { _ = src.Close() }()

	key := h.objectPrefix + s3store.CleanObjectName(file.Filename)
	progress := func(fraction float64) {
		h.logger.Debug("upload progress", "key", key, "fraction", fraction)
	}
	if err := h.uploader.Upload(c.Request.Context(), key, src, file.Size, progress); err != nil {
		h.logger.Error("upload failed", "key", key, "err", err)
		h.renderError(c, &usecase.Error{Code: usecase.ErrorUpstream, Reason: "upload_failed", Err: err})
		return
	}
	h.logger.Info("uploaded knowledge base document", "key", key, "bytes", file.Size)
	c.JSON(http.StatusOK, uploadResponse{Key: key})
}

func (h *Handler) getSession(c *gin.Context) {
	rec, found, err := h.sessions.Get(c.Request.Context(), identityOf(c), c.Param("session_id"))
	if err != nil {
		h.renderError(c, newInternal("session_read_error", err))
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Reason: "unknown_session"})
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		SessionID: rec.SessionID,
		ChatName:  rec.ChatName,
		Messages:  rec.Messages,
	})
}

func (h *Handler) renderError(c *gin.Context, err error) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.logger.Error("unexpected handler error", "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	c.JSON(statusFor(ucErr.Code), errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newInvalid(reason string, err error) *usecase.Error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason, Err: err}
}

func newInternal(reason string, err error) *usecase.Error {
	return &usecase.Error{Code: usecase.ErrorInternal, Reason: reason, Err: err}
}
