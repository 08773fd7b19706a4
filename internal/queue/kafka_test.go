package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// fakeReader hands out queued results and then blocks until the context ends.
type fakeReader struct {
	mu      sync.Mutex
	results []readResult
	closed  bool
	drained chan struct{}
}

type readResult struct {
	msg kafka.Message
	err error
}

func newFakeReader(results ...readResult) *fakeReader {
	return &fakeReader{results: results, drained: make(chan struct{})}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.results) > 0 {
		next := r.results[0]
		r.results = r.results[1:]
		r.mu.Unlock()
		return next.msg, next.err
	}
	r.mu.Unlock()

	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	require.NoError(t, p.Publish(context.Background(), "abc"))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "abc", string(w.msgs[0].Value))
	assert.Equal(t, "abc", string(w.msgs[0].Key))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestConsumer_RunDeliversAndSurvivesErrors(t *testing.T) {
	r := newFakeReader(
		readResult{msg: kafka.Message{Value: []byte("one")}},
		readResult{err: errors.New("transient")},
		readResult{msg: kafka.Message{Value: []byte("two")}},
		readResult{msg: kafka.Message{Value: []byte("three")}},
	)
	c := &Consumer{reader: r, log: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, payload []byte) error {
			got = append(got, string(payload))
			if string(payload) == "two" {
				return errors.New("handler failed")
			}
			return nil
		})
	}()

	<-r.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.True(t, r.closed)
}
