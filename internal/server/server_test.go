package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photopipe/internal/blob"
	"photopipe/internal/metrics"
	"photopipe/internal/models"
	"photopipe/internal/worker"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakePhotos struct {
	mu       sync.Mutex
	photos   map[string]models.Photo
	upserts  int
	lists    int
	writeErr error
	listErr  error
}

func newFakePhotos() *fakePhotos {
	return &fakePhotos{photos: map[string]models.Photo{}}
}

func (f *fakePhotos) UpsertPhoto(_ context.Context, p *models.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.photos[p.ID()] = *p
	return nil
}

func (f *fakePhotos) GetPhoto(_ context.Context, id string) (*models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.photos[id]
	if !ok {
		return nil, models.ErrPhotoNotFound
	}
	return &p, nil
}

func (f *fakePhotos) ListPhotos(_ context.Context) ([]models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Photo
	for _, p := range f.photos {
		out = append(out, p)
	}
	return out, nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	puts    int
	signs   int
	putErr  error
	signErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.blobs[key] = data
	return nil
}

func (f *fakeBlobs) SignedURL(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signs++
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://blobs.test/" + key + "?sig=x", nil
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeQueue) Publish(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

type fixture struct {
	srv     *Server
	photos  *fakePhotos
	blobs   *fakeBlobs
	queue   *fakeQueue
	metrics *metrics.Metrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.MaxUploadBytes = 1024
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		photos:  newFakePhotos(),
		blobs:   newFakeBlobs(),
		queue:   &fakeQueue{},
		metrics: metrics.New(reg),
	}
	f.srv = NewServer(testConfig(), Deps{
		Photos:   f.photos,
		Blobs:    f.blobs,
		Queue:    f.queue,
		Metrics:  f.metrics,
		Gatherer: reg,
		Log:      discardLogger(),
	})
	return f
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUpload_Success(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return now }

	rec := f.do(http.MethodPost, "/post", pngHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got models.Photo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StateUploaded, got.State)
	assert.Empty(t, got.Result)
	assert.NotEmpty(t, got.RowKey)
	assert.Equal(t, got.RowKey, got.PartitionKey)
	assert.True(t, now.Equal(got.Timestamp))
	assert.Equal(t, "https://blobs.test/"+got.RowKey+".jpg?sig=x", got.URL)

	assert.Equal(t, pngHeader, f.blobs.blobs[got.RowKey+".jpg"])
	assert.Equal(t, models.StateUploaded, f.photos.photos[got.RowKey].State)
	assert.Equal(t, []string{got.RowKey}, f.queue.ids)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(metrics.OutcomeOK)))
}

func TestUpload_IdentifiersAreUnique(t *testing.T) {
	f := newFixture(t)
	const n = 10000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		rec := f.do(http.MethodPost, "/post", []byte{byte(i), byte(i >> 8), 1})
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.Photo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Equal(t, models.StateUploaded, got.State)
		_, dup := seen[got.RowKey]
		require.False(t, dup, "duplicate identifier %s", got.RowKey)
		seen[got.RowKey] = struct{}{}
	}
	assert.Len(t, f.queue.ids, n)
}

func TestUpload_EmptyBodyHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/post", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid input")

	assert.Equal(t, 0, f.blobs.puts)
	assert.Equal(t, 0, f.blobs.signs)
	assert.Equal(t, 0, f.photos.upserts)
	assert.Empty(t, f.queue.ids)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(metrics.OutcomeInvalid)))
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/post", bytes.Repeat([]byte{1}, 2048))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.blobs.puts)
}

func TestUpload_DependencyFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *fixture)
		wantMessage string
		wantUpserts int
	}{
		{
			name:        "blob write",
			setup:       func(f *fixture) { f.blobs.putErr = errors.New("disk full") },
			wantMessage: "blob write failed",
		},
		{
			name:        "signing",
			setup:       func(f *fixture) { f.blobs.signErr = errors.New("no key") },
			wantMessage: "blob read failed",
		},
		{
			name:        "metadata write",
			setup:       func(f *fixture) { f.photos.writeErr = errors.New("db down") },
			wantMessage: "metadata write failed",
			wantUpserts: 1,
		},
		{
			name:        "queue send",
			setup:       func(f *fixture) { f.queue.err = errors.New("broker down") },
			wantMessage: "queue send failed",
			wantUpserts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			rec := f.do(http.MethodPost, "/post", pngHeader)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantMessage)
			assert.Equal(t, tt.wantUpserts, f.photos.upserts)
			assert.Empty(t, f.queue.ids)
		})
	}
}

func TestList_Empty(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"list":[]}`, rec.Body.String())
}

func TestList_ReturnsAllRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := models.NewPhoto("B", time.Now(), "ub")
	b.MarkProcessed("ub", []string{"cat"})
	require.NoError(t, f.photos.UpsertPhoto(ctx, b))
	require.NoError(t, f.photos.UpsertPhoto(ctx, models.NewPhoto("A", time.Now(), "ua")))

	rec := f.do(http.MethodGet, "/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	states := map[string]models.State{}
	for _, p := range got.List {
		states[p.RowKey] = p.State
	}
	assert.Equal(t, map[string]models.State{"A": models.StateUploaded, "B": models.StateProcessed}, states)
}

func TestList_ReadFailure(t *testing.T) {
	f := newFixture(t)
	f.photos.listErr = errors.New("db down")

	rec := f.do(http.MethodGet, "/list", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "metadata read failed")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	f.do(http.MethodPost, "/post", pngHeader)
	rec = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `photopipe_uploads_total{outcome="ok"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(models.ErrInvalidInput))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(models.ErrQueueSendFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

// The upload handler and the worker share a record: upload, tag, list.
type scriptedTagger struct {
	labels []models.Label
}

func (s scriptedTagger) Tag(context.Context, string) ([]models.Label, error) {
	return s.labels, nil
}

func TestUploadThenProcess(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/post", []byte("\x89PNG..."))
	require.Equal(t, http.StatusOK, rec.Code)
	var uploaded models.Photo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.Equal(t, models.StateUploaded, uploaded.State)
	assert.Empty(t, uploaded.Result)

	p := worker.NewProcessor(f.photos, f.blobs, scriptedTagger{labels: []models.Label{
		{Name: "cat", Confidence: 0.95},
		{Name: "blurry", Confidence: 0.4},
	}}, f.metrics, discardLogger())
	require.Len(t, f.queue.ids, 1)
	require.NoError(t, p.HandleMessage(context.Background(), []byte(f.queue.ids[0])))

	rec = f.do(http.MethodGet, "/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.List, 1)
	assert.Equal(t, models.StateProcessed, list.List[0].State)
	assert.Equal(t, []string{"cat"}, list.List[0].Result)
}

func TestBlobRouteServesLocalStore(t *testing.T) {
	local, err := blob.NewLocalStore(t.TempDir(), "http://example.test", []byte("secret"), time.Hour)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	srv := NewServer(testConfig(), Deps{
		Photos:  newFakePhotos(),
		Blobs:   local,
		Queue:   &fakeQueue{},
		Metrics: metrics.New(reg),
		Log:     discardLogger(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/post", bytes.NewReader(pngHeader)))
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Photo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, strings.HasPrefix(got.URL, "http://example.test/blobs/"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(got.URL, "http://example.test"), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngHeader, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blobs/"+got.RowKey+".jpg", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
