package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photopipe/internal/metrics"
	"photopipe/internal/models"
)

type PhotoStore interface {
	UpsertPhoto(ctx context.Context, p *models.Photo) error
	ListPhotos(ctx context.Context) ([]models.Photo, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	SignedURL(ctx context.Context, key string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, id string) error
}

// ListResponse is the body of GET /list.
type ListResponse struct {
	List []models.Photo `json:"list"`
}

type Deps struct {
	Photos   PhotoStore
	Blobs    BlobStore
	Queue    Publisher
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	http    *http.Server
	photos  PhotoStore
	blobs   BlobStore
	queue   Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
	newID   func() string
	now     func() time.Time
}

func NewServer(cfg *models.Config, deps Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Log))

	s := &Server{
		cfg:     cfg,
		router:  r,
		photos:  deps.Photos,
		blobs:   deps.Blobs,
		queue:   deps.Queue,
		metrics: deps.Metrics,
		log:     deps.Log,
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}

	r.POST("/post", s.handleUpload)
	r.GET("/list", s.handleList)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	// Local blob stores serve their own signed URLs.
	if h, ok := deps.Blobs.(http.Handler); ok {
		r.GET("/blobs/:key", gin.WrapH(http.StripPrefix("/blobs", h)))
	}

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. A graceful stop returns nil.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.cfg.ServerAddr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"
	ctx := c.Request.Context()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, op, models.ErrInvalidInput, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(c, op, models.ErrInvalidInput, err)
		return
	}
	if len(body) == 0 {
		s.fail(c, op, models.ErrInvalidInput, errors.New("request body is empty"))
		return
	}

	id := s.newID()
	key := models.BlobKey(id)

	if err := s.blobs.Put(ctx, key, body); err != nil {
		s.fail(c, op, models.ErrStorageWriteFailed, err)
		return
	}

	url, err := s.blobs.SignedURL(ctx, key)
	if err != nil {
		s.fail(c, op, models.ErrStorageReadFailed, err)
		return
	}
	photo := models.NewPhoto(id, s.now(), url)
	if err := s.photos.UpsertPhoto(ctx, photo); err != nil {
		s.fail(c, op, models.ErrMetadataWriteFailed, err)
		return
	}

	if err := s.queue.Publish(ctx, id); err != nil {
		s.fail(c, op, models.ErrQueueSendFailed, err)
		return
	}

	s.metrics.Uploads.WithLabelValues(metrics.OutcomeOK).Inc()
	s.log.Info("photo uploaded", "id", id, "bytes", len(body))
	c.JSON(http.StatusOK, photo)
}

func (s *Server) handleList(c *gin.Context) {
	const op = "server.handleList"

	photos, err := s.photos.ListPhotos(c.Request.Context())
	if err != nil {
		s.fail(c, op, models.ErrMetadataReadFailed, err)
		return
	}
	if photos == nil {
		photos = []models.Photo{}
	}
	c.JSON(http.StatusOK, ListResponse{List: photos})
}
