package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"crypto_feed/internal/event"

	"github.com/redis/go-redis/v9"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Redis publishes every event on a pub/sub channel named
// <prefix>.<event>.<symbol>, e.g. "feed.TopOfBook.BTC-USD".
type Redis struct {
	client publisher
	prefix string
}

// NewRedis connects lazily to addr.
func NewRedis(addr, prefix string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (r *Redis) Name() string { return "redis" }

// Publish sends the batch; it keeps going after a failed event and returns
// the joined errors.
func (r *Redis) Publish(ctx context.Context, events []event.Event) error {
	var errs []error
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", ev.GetType(), err))
			continue
		}
		if err := r.client.Publish(ctx, r.channel(ev), b).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) channel(ev event.Event) string {
	parts := []string{string(ev.GetType()), ev.GetSymbol()}
	if r.prefix != "" {
		parts = append([]string{r.prefix}, parts...)
	}
	return strings.Join(parts, ".")
}
