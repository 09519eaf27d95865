// Package handler provides HTTP handlers for RAG service.
package handler

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/httputils"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/docutil"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/history"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/validator"
)

// ErrorAnswer is returned to the user when the model call fails.
const ErrorAnswer = "I apologize, but I'm having trouble generating a response at the moment."

// RAGService is the part of biz.Service the handlers use.
type RAGService interface {
	IndexDocuments(ctx context.Context, paths, names []string, collection string) (int, error)
	IndexScrapedURLs(ctx context.Context, urls, selectors []string, collection string) (int, error)
	GenerateResponse(ctx context.Context, query, collection string, history []model.Message) (*model.Answer, error)
	StreamResponse(ctx context.Context, query, collection string, history []model.Message) ([]model.ChunkSource, iter.Seq2[string, error])
	SuggestQuestions(ctx context.Context, collection string, history []model.Message, n int) ([]string, error)
	CleanupCollection(ctx context.Context, collection string) bool
	CollectionInfo(ctx context.Context, collection string) *store.CollectionInfo
	SupportedExtensions() []string
	Stats() map[string]any
}

var _ RAGService = (*biz.Service)(nil)

// Config configures upload handling.
type Config struct {
	// UploadDir is the parent of the per-request temp directories.
	UploadDir string
	// MaxFileBytes limits each uploaded file; 0 disables.
	MaxFileBytes int64
	// MaxFiles limits the number of files per upload request.
	MaxFiles int
	// SuggestedQuestions is the default number of suggested questions.
	SuggestedQuestions int
}

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	service RAGService
	history history.Store
	ingest  *pool.Pool
	cfg     Config
}

// NewRAGHandler creates a new RAGHandler. ingest may be nil, in which case
// indexing runs on the request goroutine.
func NewRAGHandler(service RAGService, hs history.Store, ingest *pool.Pool, cfg Config) *RAGHandler {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 20
	}
	if cfg.SuggestedQuestions <= 0 {
		cfg.SuggestedQuestions = 5
	}
	return &RAGHandler{service: service, history: hs, ingest: ingest, cfg: cfg}
}

// UploadResult is the response of the upload endpoints.
type UploadResult struct {
	SessionID string `json:"session_id"`
	// Accepted lists the inputs handed to indexing. An accepted input may
	// still fail to parse or scrape; Points counts what was stored.
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected,omitempty"`
	Points   int      `json:"points"`
}

// UploadDocs indexes multipart "files" into the session collection.
// A missing session_id starts a new session.
func (h *RAGHandler) UploadDocs(c *gin.Context) {
	sessionID, err := h.sessionID(c, c.PostForm("session_id"))
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		httputils.WriteResponse(c, errors.ErrBadRequest.WithCause(err), nil)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		httputils.WriteResponse(c, errors.ErrRAGInvalidRequest.WithMessage("no files uploaded"), nil)
		return
	}
	if len(files) > h.cfg.MaxFiles {
		httputils.WriteResponse(c, errors.ErrRAGInvalidRequest.WithMessagef(
			"too many files: %d > %d", len(files), h.cfg.MaxFiles), nil)
		return
	}

	ws, err := docutil.NewWorkspace(h.cfg.UploadDir, "upload")
	if err != nil {
		httputils.WriteResponse(c, errors.ErrInternal.WithCause(err), nil)
		return
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warnw("failed to remove upload workspace", "dir", ws.Dir(), "error", err.Error())
		}
	}()

	supported := h.service.SupportedExtensions()
	result := &UploadResult{SessionID: sessionID}
	var paths, names []string
	for _, fh := range files {
		name := docutil.SafeFileName(fh.Filename)
		if !slices.Contains(supported, strings.ToLower(filepath.Ext(name))) {
			result.Rejected = append(result.Rejected, name)
			continue
		}
		f, err := fh.Open()
		if err != nil {
			result.Rejected = append(result.Rejected, name)
			continue
		}
		path, err := ws.Save(name, f, h.cfg.MaxFileBytes)
		_ = f.Close()
		if err != nil {
			logger.Warnw("failed to store upload", "session_id", sessionID, "file", name, "error", err.Error())
			result.Rejected = append(result.Rejected, name)
			continue
		}
		paths = append(paths, path)
		names = append(names, name)
	}
	if len(paths) == 0 {
		httputils.WriteResponse(c, errors.ErrUnsupportedFormat.WithMessagef(
			"no supported files, accepted extensions: %s", strings.Join(supported, ", ")), nil)
		return
	}

	collection := biz.CollectionName(sessionID)
	err = h.run(c.Request.Context(), func(ctx context.Context) error {
		n, err := h.service.IndexDocuments(ctx, paths, names, collection)
		result.Points = n
		return err
	})
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	if result.Points == 0 {
		httputils.WriteResponse(c, errors.ErrParseFailure.WithMessage("no content could be extracted from the uploaded files"), nil)
		return
	}
	result.Accepted = names
	httputils.WriteResponse(c, nil, result)
}

// UploadURLsRequest is the body of POST /upload-urls.
type UploadURLsRequest struct {
	SessionID string   `json:"session_id" validate:"omitempty,sessionid"`
	URLs      []string `json:"urls" validate:"required,min=1,max=20,dive,httpurl"`
	Selectors []string `json:"selectors" validate:"omitempty,dive,cssselector"`
}

// UploadURLs scrapes and indexes web pages into the session collection.
func (h *RAGHandler) UploadURLs(c *gin.Context) {
	var req UploadURLsRequest
	if err := httputils.BindJSON(c, &req); err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	sessionID, _ := h.sessionID(c, req.SessionID)

	result := &UploadResult{SessionID: sessionID}
	err := h.run(c.Request.Context(), func(ctx context.Context) error {
		n, err := h.service.IndexScrapedURLs(ctx, req.URLs, req.Selectors, biz.CollectionName(sessionID))
		result.Points = n
		return err
	})
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	if result.Points == 0 {
		httputils.WriteResponse(c, errors.ErrScrapeFailed.WithMessage("no content could be indexed from the given urls"), nil)
		return
	}
	result.Accepted = req.URLs
	httputils.WriteResponse(c, nil, result)
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	SessionID string `json:"session_id" validate:"required,sessionid"`
	Message   string `json:"message" validate:"required,max=4000"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	SessionID string              `json:"session_id"`
	Answer    string              `json:"answer"`
	Sources   []model.ChunkSource `json:"sources"`
}

// Chat answers a message from the session's documents and records the turn.
func (h *RAGHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := httputils.BindJSON(c, &req); err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	ctx := c.Request.Context()

	past := h.loadHistory(ctx, req.SessionID)
	h.appendHistory(ctx, req.SessionID, model.Message{Role: model.RoleUser, Content: req.Message})

	resp := &ChatResponse{SessionID: req.SessionID, Sources: []model.ChunkSource{}}
	answer, err := h.service.GenerateResponse(ctx, req.Message, biz.CollectionName(req.SessionID), past)
	if err != nil {
		logger.Errorw("chat failed", "session_id", req.SessionID, "error", err.Error())
		resp.Answer = ErrorAnswer
	} else {
		resp.Answer = answer.Answer
		if answer.Sources != nil {
			resp.Sources = answer.Sources
		}
	}
	h.appendHistory(ctx, req.SessionID, model.Message{Role: model.RoleBot, Content: resp.Answer})
	httputils.WriteResponse(c, nil, resp)
}

// ChatStream streams the answer as server-sent events: one {"chunk": ...}
// frame per fragment, then {"sources": [...]}. A failure ends the stream
// with an {"error": ...} frame.
func (h *RAGHandler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := httputils.BindJSON(c, &req); err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	ctx := c.Request.Context()

	past := h.loadHistory(ctx, req.SessionID)
	h.appendHistory(ctx, req.SessionID, model.Message{Role: model.RoleUser, Content: req.Message})
	sources, stream := h.service.StreamResponse(ctx, req.Message, biz.CollectionName(req.SessionID), past)

	httputils.StartSSE(c)
	var answer strings.Builder
	for fragment, err := range stream {
		if err != nil {
			logger.Errorw("chat stream failed", "session_id", req.SessionID, "error", err.Error())
			_ = httputils.WriteSSE(c, gin.H{"error": ErrorAnswer})
			answer.Reset()
			answer.WriteString(ErrorAnswer)
			break
		}
		answer.WriteString(fragment)
		if werr := httputils.WriteSSE(c, gin.H{"chunk": fragment}); werr != nil {
			// 客户端断开
			logger.Debugw("chat stream client gone", "session_id", req.SessionID, "error", werr.Error())
			break
		}
	}
	if sources == nil {
		sources = []model.ChunkSource{}
	}
	_ = httputils.WriteSSE(c, gin.H{"sources": sources})

	if answer.Len() > 0 {
		h.appendHistory(context.WithoutCancel(ctx), req.SessionID, model.Message{Role: model.RoleBot, Content: answer.String()})
	}
}

// SuggestRequest is the body of POST /suggested-questions.
type SuggestRequest struct {
	SessionID string `json:"session_id" validate:"required,sessionid"`
	Count     int    `json:"count" validate:"omitempty,min=1,max=10"`
}

// SuggestedQuestions proposes follow-up questions about the session content.
func (h *RAGHandler) SuggestedQuestions(c *gin.Context) {
	var req SuggestRequest
	if err := httputils.BindJSON(c, &req); err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	if req.Count == 0 {
		req.Count = h.cfg.SuggestedQuestions
	}
	ctx := c.Request.Context()

	questions, err := h.service.SuggestQuestions(ctx, biz.CollectionName(req.SessionID), h.loadHistory(ctx, req.SessionID), req.Count)
	if err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, gin.H{"session_id": req.SessionID, "questions": questions})
}

// SessionInfo describes one session.
type SessionInfo struct {
	SessionID  string                `json:"session_id"`
	Collection *store.CollectionInfo `json:"collection"`
	History    []model.Message       `json:"history"`
}

// GetSession returns the collection statistics and history of a session.
func (h *RAGHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.checkSessionID(c, sessionID); err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	ctx := c.Request.Context()

	info := h.service.CollectionInfo(ctx, biz.CollectionName(sessionID))
	msgs := h.loadHistory(ctx, sessionID)
	if info == nil && len(msgs) == 0 {
		httputils.WriteResponse(c, errors.ErrSessionNotFound.WithMessagef("session %s not found", sessionID), nil)
		return
	}
	httputils.WriteResponse(c, nil, &SessionInfo{SessionID: sessionID, Collection: info, History: msgs})
}

// DeleteSession drops the session collection and its history.
func (h *RAGHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.checkSessionID(c, sessionID); err != nil {
		httputils.WriteResponse(c, err, nil)
		return
	}
	ctx := c.Request.Context()

	deleted := h.service.CleanupCollection(ctx, biz.CollectionName(sessionID))
	if err := h.history.Delete(ctx, sessionID); err != nil {
		logger.Warnw("failed to delete history", "session_id", sessionID, "error", err.Error())
	}
	httputils.WriteResponse(c, nil, gin.H{"session_id": sessionID, "deleted": deleted})
}

// Stats returns service statistics.
func (h *RAGHandler) Stats(c *gin.Context) {
	stats := h.service.Stats()
	if h.ingest != nil {
		stats["ingest_pool"] = h.ingest.Stats()
	}
	httputils.WriteResponse(c, nil, stats)
}

// Healthz reports liveness.
func (h *RAGHandler) Healthz(c *gin.Context) {
	httputils.WriteResponse(c, nil, gin.H{"status": "ok"})
}

// sessionID validates a client supplied id or creates a new one.
func (h *RAGHandler) sessionID(c *gin.Context, id string) (string, error) {
	if id == "" {
		return biz.NewSessionID(), nil
	}
	return id, h.checkSessionID(c, id)
}

func (h *RAGHandler) checkSessionID(c *gin.Context, id string) error {
	if verrs := validator.VarWithLang(id, "required,"+validator.TagSessionID, httputils.Lang(c)); verrs.HasErrors() {
		return errors.ErrValidationFailed.WithCause(verrs)
	}
	return nil
}

// run executes fn on the ingest pool and waits for it. A full pool is
// reported as ErrTooManyRequests and a panic in fn as ErrInternal.
func (h *RAGHandler) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if h.ingest == nil {
		return fn(ctx)
	}

	done := make(chan error, 1)
	err := h.ingest.SubmitWithContext(ctx, func() {
		// ants 会吞掉 panic，必须在此回报，否则请求一直等待
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("ingest task panicked", "panic", fmt.Sprint(r))
				done <- errors.ErrInternal.WithMessagef("ingest panic: %v", r)
			}
		}()
		done <- fn(ctx)
	})
	switch {
	case stderrors.Is(err, pool.ErrPoolOverload):
		return errors.ErrTooManyRequests.WithMessage("indexing capacity exhausted, retry later")
	case err != nil:
		return errors.ErrInternal.WithCause(err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *RAGHandler) loadHistory(ctx context.Context, sessionID string) []model.Message {
	msgs, err := h.history.Get(ctx, sessionID)
	if err != nil {
		logger.Warnw("failed to load history", "session_id", sessionID, "error", err.Error())
		return nil
	}
	return msgs
}

func (h *RAGHandler) appendHistory(ctx context.Context, sessionID string, msg model.Message) {
	if err := h.history.Append(ctx, sessionID, msg); err != nil {
		logger.Warnw("failed to save history", "session_id", sessionID, "role", msg.Role, "error", err.Error())
	}
}
