package chainstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for runs and chains.
// It is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a client whose keys and channels are namespaced by
// instanceName, which must not be empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveRun writes the run (full replacement) and indexes it by creation time.
func (c *Client) SaveRun(ctx context.Context, r *Run) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	hash, err := RunToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, RunKey(c.instanceName, r.ID), hash)
		pipe.ZAdd(ctx, RunsKey(c.instanceName), redis.Z{Score: float64(r.CreatedAtMs), Member: r.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write run to Redis: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns redis.Nil if it does not exist; use
// IsNotFound to check.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	hashData, err := c.rdb.HGetAll(ctx, RunKey(c.instanceName, runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	r, err := HashToRun(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := c.rdb.ZRevRange(ctx, RunsKey(c.instanceName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		r, err := c.GetRun(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// DeleteRun removes a run, its chains and its index entry.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	r, err := c.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	keys := []string{RunKey(c.instanceName, runID)}
	for _, name := range r.FreeParameters {
		keys = append(keys, ChainKey(c.instanceName, runID, name))
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, RunsKey(c.instanceName), runID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// SaveChains stores one packed chain per parameter.
func (c *Client) SaveChains(ctx context.Context, runID string, chains map[string][]float64) error {
	if len(chains) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, samples := range chains {
			pipe.Set(ctx, ChainKey(c.instanceName, runID, name), PackChain(samples), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write chains to Redis: %w", err)
	}
	return nil
}

// LoadChains returns the stored chains for names. Parameters without a
// stored chain are absent from the result.
func (c *Client) LoadChains(ctx context.Context, runID string, names []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	if len(names) == 0 {
		return out, nil
	}

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = ChainKey(c.instanceName, runID, name)
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chains from Redis: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		samples, err := UnpackChain([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("failed to decode chain %q: %w", names[i], err)
		}
		out[names[i]] = samples
	}
	return out, nil
}

// PublishProgress publishes a progress event for live watchers.
func (c *Client) PublishProgress(ctx context.Context, ev *ProgressEvent) error {
	if ev.TimestampMs == 0 {
		ev.TimestampMs = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := c.rdb.Publish(ctx, ProgressEventsChannel(c.instanceName), data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// ProgressSubscription is an active subscription to progress events. Call
// Close when done.
type ProgressSubscription struct {
	events <-chan *ProgressEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the event channel. It is closed when the subscription ends.
func (s *ProgressSubscription) Events() <-chan *ProgressEvent { return s.events }

// Errors returns non-fatal decoding errors; offending messages are skipped.
func (s *ProgressSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call more than once.
func (s *ProgressSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeProgress subscribes to progress events for this instance. The
// subscription is confirmed before returning, so events published afterwards
// are delivered. Delivery is at-most-once and buffered (size 10).
func (c *Client) SubscribeProgress(ctx context.Context) (*ProgressSubscription, error) {
	pubsub := c.rdb.Subscribe(ctx, ProgressEventsChannel(c.instanceName))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to progress events: %w", err)
	}

	eventsChan := make(chan *ProgressEvent, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal progress event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &ProgressSubscription{events: eventsChan, errors: errorsChan, cancel: cancel}, nil
}

// IsNotFound reports whether err is Redis's "key not found" (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
