package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/swiftride/dispatch/pkg/logger"
)

const (
	defaultStream        = "DISPATCH"
	defaultSubjectPrefix = "dispatch"
)

// NATSConfig holds NATS connection settings for the notifier.
type NATSConfig struct {
	URL           string
	Name          string
	StreamName    string
	SubjectPrefix string
}

// NATSNotifier publishes events over NATS JetStream. Subjects are derived
// from the subject prefix and the event type, e.g. "ride.completed" becomes
// "dispatch.ride.completed".
type NATSNotifier struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNATSNotifier connects to NATS and ensures the dispatch stream exists.
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	streamName := cfg.StreamName
	if streamName == "" {
		streamName = defaultStream
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.InterestPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	logger.Info("notification stream connected",
		zap.String("url", cfg.URL),
		zap.String("stream", streamName),
	)

	return &NATSNotifier{conn: nc, js: js, prefix: prefix}, nil
}

// Publish sends the event on its derived subject.
func (n *NATSNotifier) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := n.prefix + "." + event.Type
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("type", event.Type),
	)
	return nil
}

// Close drains the NATS connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Drain()
	}
}
