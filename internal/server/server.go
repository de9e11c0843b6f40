// Package server exposes the intake HTTP API: submission upload, status
// lookup and operator retry. Processing itself happens in workers.
package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfaktur/einvoice/internal/model"
	"github.com/openfaktur/einvoice/internal/queue"
	"github.com/openfaktur/einvoice/internal/store"
)

// MaxUploadBytes bounds a single submission (PDF containers included).
const MaxUploadBytes = 20 << 20

// Config holds server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RetryCap     int
	Debug        bool
}

// Server is the intake HTTP API.
type Server struct {
	config *Config
	router *gin.Engine
	repo   *store.Repository
	blobs  store.BlobStore
	tasks  *queue.Queue
	log    zerolog.Logger
}

// NewServer creates the API server and its routes.
func NewServer(config *Config, repo *store.Repository, blobs store.BlobStore, tasks *queue.Queue, log zerolog.Logger) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config: config,
		router: router,
		repo:   repo,
		blobs:  blobs,
		tasks:  tasks,
		log:    log.With().Str("component", "server").Logger(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/invoices", s.handleUpload)
		v1.GET("/invoices", s.handleList)
		v1.GET("/invoices/:id", s.handleStatus)
		v1.GET("/invoices/:id/logs", s.handleLogs)
		v1.POST("/invoices/:id/retry", s.handleRetry)
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	depth, err := s.tasks.Depth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "queue unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"queue_depth": depth,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// handleUpload accepts one invoice file (multipart field "file" or the raw
// body), stores it, creates the transaction and enqueues processing.
func (s *Server) handleUpload(c *gin.Context) {
	data, filename, err := readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty submission"})
		return
	}
	if len(data) > MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "submission exceeds the size limit"})
		return
	}

	ctx := c.Request.Context()

	// Blob name is derived from a fresh id so uploads never collide; the
	// transaction row stores the URI.
	blobName := uuid.NewString() + "/" + filename
	rawURI, err := s.blobs.Upload(ctx, blobName, data, http.DetectContentType(data))
	if err != nil {
		s.log.Error().Err(err).Msg("raw upload failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	tx, err := s.repo.Create(ctx, filename, rawURI)
	if err != nil {
		s.log.Error().Err(err).Msg("transaction insert failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}

	if err := s.tasks.Enqueue(ctx, queue.Task{TransactionID: tx.ID.String()}); err != nil {
		// The transaction exists; an operator retry can enqueue it later.
		s.log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("enqueue failed after insert")
		c.JSON(http.StatusAccepted, UploadResponse{
			TransactionID: tx.ID.String(),
			Status:        string(tx.Status),
			Detail:        "accepted but not yet queued, retry if it stays in RECEIVED",
		})
		return
	}

	s.log.Info().Str("transaction_id", tx.ID.String()).Str("filename", filename).Int("bytes", len(data)).Msg("submission accepted")
	c.JSON(http.StatusAccepted, UploadResponse{
		TransactionID: tx.ID.String(),
		Status:        string(tx.Status),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}

	tx, err := s.repo.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	if tx == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such transaction"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) handleList(c *gin.Context) {
	status := model.TransactionStatus(c.Query("status"))
	txs, err := s.repo.List(c.Request.Context(), status, 100)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

func (s *Server) handleLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	logs, err := s.repo.Logs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// handleRetry resets an ERROR or INVALID transaction back to RECEIVED and
// re-enqueues it, up to the retry cap.
func (s *Server) handleRetry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}

	ctx := c.Request.Context()
	ok, err := s.repo.RequeueFromError(ctx, id, s.config.RetryCap)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "transaction is not retryable (wrong state or retry cap reached)"})
		return
	}
	s.repo.LogStep(ctx, id, "retry", "operator retry requested", "")

	if err := s.tasks.Enqueue(ctx, queue.Task{TransactionID: id.String()}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable, transaction reset to RECEIVED"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"transaction_id": id.String(), "status": string(model.StatusReceived)})
}

// readUpload reads the submission from the "file" multipart field, falling
// back to the raw request body for curl-style clients.
func readUpload(c *gin.Context) ([]byte, string, error) {
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, "", fmt.Errorf("cannot open uploaded file: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
		if err != nil {
			return nil, "", fmt.Errorf("cannot read uploaded file: %w", err)
		}
		return data, fh.Filename, nil
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("cannot read request body: %w", err)
	}
	return data, "upload.bin", nil
}
