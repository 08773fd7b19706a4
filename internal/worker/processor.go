package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"photopipe/internal/metrics"
	"photopipe/internal/models"
)

// ConfidenceThreshold is the exclusive lower bound for keeping a label.
const ConfidenceThreshold = 0.8

type PhotoStore interface {
	GetPhoto(ctx context.Context, id string) (*models.Photo, error)
	UpsertPhoto(ctx context.Context, p *models.Photo) error
}

type URLSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

type Tagger interface {
	Tag(ctx context.Context, imageURL string) ([]models.Label, error)
}

// Processor tags one uploaded photo per queue message.
type Processor struct {
	photos  PhotoStore
	blobs   URLSigner
	tagger  Tagger
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewProcessor(photos PhotoStore, blobs URLSigner, tagger Tagger, m *metrics.Metrics, log *slog.Logger) *Processor {
	return &Processor{photos: photos, blobs: blobs, tagger: tagger, metrics: m, log: log}
}

// HandleMessage decodes a queue payload into an identifier and processes it.
func (p *Processor) HandleMessage(ctx context.Context, payload []byte) error {
	const op = "worker.HandleMessage"

	if !utf8.Valid(payload) {
		p.metrics.Messages.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return fmt.Errorf("%s: %w: payload is not UTF-8", op, models.ErrInvalidInput)
	}
	id := strings.TrimSpace(string(payload))
	if id == "" {
		p.metrics.Messages.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return fmt.Errorf("%s: %w: empty identifier", op, models.ErrInvalidInput)
	}

	err := p.Process(ctx, id)
	if err != nil {
		p.metrics.Messages.WithLabelValues(metrics.OutcomeFailed).Inc()
		return err
	}
	return nil
}

// Process tags the photo with the given identifier and marks it processed.
// A missing record, or one that is already processed, is a no-op.
func (p *Processor) Process(ctx context.Context, id string) error {
	const op = "worker.Process"

	photo, err := p.photos.GetPhoto(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrPhotoNotFound) {
			p.log.Warn("photo record not found, skipping", "id", id)
			p.metrics.Messages.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return nil
		}
		return fmt.Errorf("%s: %w: %v", op, models.ErrMetadataReadFailed, err)
	}
	if photo.State == models.StateProcessed {
		p.log.Debug("photo already processed, skipping", "id", id)
		p.metrics.Messages.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	url, err := p.blobs.SignedURL(ctx, models.BlobKey(id))
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, models.ErrStorageReadFailed, err)
	}

	start := time.Now()
	labels, err := p.tagger.Tag(ctx, url)
	p.metrics.TaggingSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, models.ErrTaggingFailed, err)
	}

	photo.MarkProcessed(url, FilterLabels(labels, ConfidenceThreshold))
	if err := p.photos.UpsertPhoto(ctx, photo); err != nil {
		return fmt.Errorf("%s: %w: %v", op, models.ErrMetadataWriteFailed, err)
	}

	p.log.Info("photo processed", "id", id, "tags", photo.Result)
	p.metrics.Messages.WithLabelValues(metrics.OutcomeOK).Inc()
	return nil
}

// FilterLabels returns the names of labels whose confidence is strictly above
// threshold, in their original order.
func FilterLabels(labels []models.Label, threshold float64) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.Confidence > threshold {
			names = append(names, l.Name)
		}
	}
	return names
}
