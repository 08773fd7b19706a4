package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Producer sends photo identifiers to the work topic.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish sends id as a UTF-8 message keyed by the same id.
func (p *Producer) Publish(ctx context.Context, id string) error {
	const op = "queue.Publish"

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(id),
		Value: []byte(id),
	})
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler processes one message payload. Errors are logged by the consumer
// and the message is not redelivered by this process.
type Handler func(ctx context.Context, payload []byte) error

// Consumer delivers messages from the work topic to a single handler.
type Consumer struct {
	reader messageReader
	log    *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		log: log,
	}
}

// Run reads messages until ctx is cancelled. Read errors other than
// cancellation are logged and the loop continues.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			c.log.Error("error reading message", "error", err)
			continue
		}

		if err := handle(ctx, msg.Value); err != nil {
			c.log.Error("error processing message",
				"payload", string(msg.Value),
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
	}
}
