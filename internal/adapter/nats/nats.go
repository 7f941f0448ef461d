// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ledgersync/internal/logger"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
)

const (
	streamName      = "LEDGERSYNC"
	headerRequestID = "X-Request-ID"

	// A message whose handler failed maxDeliver times is moved to
	// <subject>.dlq and acknowledged.
	maxDeliver = 3
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	retryDelay time.Duration
	log        *slog.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("ledgersync"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// The stream captures every ledgersync subject, dead letters included.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"ledgersync.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js, retryDelay: 5 * time.Second, log: log}, nil
}

// Publish sends a message to the given subject. The request id of ctx, if
// any, travels in a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Messages failing schema validation go straight to the dead-letter
// subject; handler failures are redelivered up to maxDeliver times.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(ctx context.Context, msg jetstream.Msg, handler messagequeue.Handler) {
	subject := msg.Subject()
	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		q.log.Warn("invalid message, moving to dead letters", "subject", subject, "error", err)
		q.deadLetter(ctx, msg)
		return
	}

	hctx := context.WithoutCancel(ctx)
	if id := msg.Headers().Get(headerRequestID); id != "" {
		hctx = logger.WithRequestID(hctx, id)
	}

	if err := handler(hctx, subject, msg.Data()); err != nil {
		delivered := uint64(1)
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}
		if delivered >= maxDeliver {
			q.log.Error("message handler failed, retries exhausted", "subject", subject, "deliveries", delivered, "error", err)
			q.deadLetter(ctx, msg)
			return
		}
		q.log.Error("message handler failed", "subject", subject, "deliveries", delivered, "error", err)
		if nakErr := msg.NakWithDelay(q.retryDelay); nakErr != nil {
			q.log.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		q.log.Error("nats ack failed", "error", ackErr)
	}
}

func (q *Queue) deadLetter(ctx context.Context, msg jetstream.Msg) {
	dlq := &nats.Msg{Subject: msg.Subject() + ".dlq", Data: msg.Data(), Header: msg.Headers()}
	if _, err := q.js.PublishMsg(context.WithoutCancel(ctx), dlq); err != nil {
		q.log.Error("dead letter publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Term(); err != nil {
		q.log.Error("nats term failed", "error", err)
	}
}

// KeyValue returns the JetStream key-value bucket of that name, creating
// it with the given TTL when it does not exist.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	kv, err = q.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket, TTL: ttl})
	if err != nil {
		return nil, fmt.Errorf("nats kv create %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
