package engine

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	rules "github.com/goliatone/go-rules"
	"github.com/goliatone/go-rules/config"
	"github.com/goliatone/go-rules/runner"
	"github.com/goliatone/go-rules/sequence"
	seqpostgres "github.com/goliatone/go-rules/sequence/postgres"
	seqredis "github.com/goliatone/go-rules/sequence/redis"
)

var connectBackoff = runner.ExponentialBackoffStrategy{Base: 200 * time.Millisecond, Factor: 2, Max: 5 * time.Second}

// OpenSequence builds the sequence store selected by cfg. Redis and postgres
// are probed at start-up, retrying up to cfg.ConnectRetries times. The
// returned func releases the connections.
func OpenSequence(ctx context.Context, cfg config.Sequence, logger rules.Logger) (sequence.Store, func() error, error) {
	retry := []runner.Option{
		runner.WithMaxRetries(cfg.ConnectRetries),
		runner.WithRetryStrategy(connectBackoff),
		runner.WithLogger(logger),
	}

	switch cfg.Backend {
	case config.SequenceMemory, "":
		return sequence.NewMemory(), func() error { return nil }, nil
	case config.SequenceRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, rules.CloneError(rules.ErrConfiguration, fmt.Sprintf("sequence redis url: %v", err), err, nil)
		}
		client := goredis.NewClient(opts)
		err = runner.Retry(ctx, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, append(retry, runner.WithName("sequence redis ping"))...)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		var storeOpts []seqredis.Option
		if cfg.Prefix != "" {
			storeOpts = append(storeOpts, seqredis.WithPrefix(cfg.Prefix))
		}
		return seqredis.New(client, storeOpts...), client.Close, nil
	case config.SequencePostgres:
		var storeOpts []seqpostgres.Option
		if cfg.Table != "" {
			storeOpts = append(storeOpts, seqpostgres.WithTable(cfg.Table))
		}
		var store *seqpostgres.Store
		err := runner.Retry(ctx, func(ctx context.Context) error {
			s, err := seqpostgres.Connect(ctx, cfg.DSN, storeOpts...)
			if err != nil {
				return err
			}
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return err
			}
			store = s
			return nil
		}, append(retry, runner.WithName("sequence postgres connect"))...)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil
	}
	return nil, nil, rules.NewConfigurationError(
		fmt.Sprintf("unknown sequence backend %q", cfg.Backend),
		map[string]any{"backend": cfg.Backend},
	)
}
