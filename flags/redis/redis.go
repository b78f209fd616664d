// Package redis provides a Redis-backed FlagStore for askgate.
//
// Flags are plain string keys so other services can read them with GET.
// Plan tier writes are also published on a channel, which WatchPlanTier
// subscribes to.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/askgate"
)

// Store is a Redis-backed FlagStore.
type Store struct {
	client    goredis.UniversalClient
	keyPrefix string
}

var (
	_ askgate.FlagStore       = (*Store)(nil)
	_ askgate.PlanTierWatcher = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "askgate:flags:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed FlagStore.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "askgate:flags:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(name string) string { return s.keyPrefix + name }

func (s *Store) channel() string { return s.keyPrefix + "events:" + askgate.KeyPlanTier }

func (s *Store) PlanTier(ctx context.Context) (askgate.PlanTier, bool, error) {
	val, err := s.client.Get(ctx, s.key(askgate.KeyPlanTier)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("askgate/redis: get plan tier: %w", err)
	}
	paid, err := strconv.ParseBool(val)
	if err != nil {
		return "", false, fmt.Errorf("askgate/redis: parse plan tier %q: %w", val, err)
	}
	return askgate.PlanTierFromPaid(paid), true, nil
}

func (s *Store) SetPlanTier(ctx context.Context, tier askgate.PlanTier) error {
	val := strconv.FormatBool(tier == askgate.PlanPaid)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(askgate.KeyPlanTier), val, 0)
	pipe.Publish(ctx, s.channel(), val)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("askgate/redis: set plan tier: %w", err)
	}
	return nil
}

func (s *Store) TrialStart(ctx context.Context) (time.Time, bool, error) {
	secs, err := s.client.Get(ctx, s.key(askgate.KeyFreePlanStart)).Float64()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("askgate/redis: get trial start: %w", err)
	}
	return askgate.FromEpochSeconds(secs), true, nil
}

func (s *Store) SetTrialStart(ctx context.Context, start time.Time) error {
	val := strconv.FormatFloat(askgate.EpochSeconds(start), 'f', -1, 64)
	if err := s.client.Set(ctx, s.key(askgate.KeyFreePlanStart), val, 0).Err(); err != nil {
		return fmt.Errorf("askgate/redis: set trial start: %w", err)
	}
	return nil
}

// WatchPlanTier streams tier changes published by any writer until ctx is done.
func (s *Store) WatchPlanTier(ctx context.Context) (<-chan askgate.PlanTier, error) {
	sub := s.client.Subscribe(ctx, s.channel())
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("askgate/redis: subscribe: %w", err)
	}

	out := make(chan askgate.PlanTier, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				paid, err := strconv.ParseBool(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case out <- askgate.PlanTierFromPaid(paid):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
