package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"detox/pkg/models"
	"detox/pkg/storage"
)

const (
	// StreamKeyRuns receives one entry per finished run.
	StreamKeyRuns = "detox:runs"
	// streamMaxLen bounds the stream; older entries are trimmed approximately.
	streamMaxLen = 1000
)

// RunPublisher appends run summaries to a Redis stream.
type RunPublisher struct {
	client *redis.Client
	stream string
}

// RunPublisherConfig holds Redis connection configuration
type RunPublisherConfig struct {
	Addr         string
	Stream       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRunPublisherConfig returns defaults for a short-lived CLI client.
func DefaultRunPublisherConfig(addr string) RunPublisherConfig {
	return RunPublisherConfig{
		Addr:         addr,
		Stream:       StreamKeyRuns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRunPublisher connects with default config.
func NewRunPublisher(addr string) (*RunPublisher, error) {
	return NewRunPublisherWithConfig(DefaultRunPublisherConfig(addr))
}

// NewRunPublisherWithConfig connects and pings the server.
func NewRunPublisherWithConfig(cfg RunPublisherConfig) (*RunPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     2,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = StreamKeyRuns
	}
	return &RunPublisher{client: client, stream: stream}, nil
}

func (r *RunPublisher) Close() error {
	return r.client.Close()
}

func (r *RunPublisher) Name() string { return "redis" }

// Record publishes a finished run.
func (r *RunPublisher) Record(ctx context.Context, run *models.Run) error {
	payload, err := json.Marshal(models.NewRunRecord(run))
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// XADD detox:runs MAXLEN ~ 1000 * payload {json} ...
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload":  payload,
			"run_id":   run.ID.String(),
			"work_dir": run.WorkDir,
			"result":   run.Result(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}
	return nil
}

// ListRecent reads the latest published runs, newest first.
func (r *RunPublisher) ListRecent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	runs := make([]models.RunRecord, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid payload format in %s", msg.ID)
		}
		var rec models.RunRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run %s: %w", msg.ID, err)
		}
		runs = append(runs, rec)
	}
	return runs, nil
}

// Last returns the latest published run.
func (r *RunPublisher) Last(ctx context.Context) (*models.RunRecord, error) {
	runs, err := r.ListRecent(ctx, 1)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storage.ErrNotFound
	}
	return &runs[0], nil
}
