package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/exits"
	"github.com/risklab/signalgate/internal/portfolio"
	"github.com/risklab/signalgate/internal/regime"
)

// Status is the observability payload published for dashboards.
type Status struct {
	Regime    regime.State       `json:"regime"`
	Portfolio portfolio.Snapshot `json:"portfolio"`
	Stats     exits.Stats        `json:"stats"`
	Timestamp time.Time          `json:"timestamp"`
}

// Publisher writes status snapshots to Redis behind a circuit breaker.
// Snapshot loss is acceptable; the engine never blocks on publishing.
type Publisher struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	prefix  string
	ttl     time.Duration
}

// NewPublisher connects to Redis and arms the breaker. Returns an error when
// the initial ping fails.
func NewPublisher(cfg config.SnapshotConfig) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "snapshot-redis",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("component", "snapshot").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Publisher{
		client:  client,
		breaker: breaker,
		prefix:  cfg.Prefix,
		ttl:     cfg.TTL,
	}, nil
}

// Publish writes the status document under <prefix>:status.
func (p *Publisher) Publish(ctx context.Context, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.client.Set(ctx, p.prefix+":status", data, p.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
