package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"crypto_feed/internal/connection"
	"crypto_feed/internal/domain"
	"crypto_feed/internal/engine"
	"crypto_feed/internal/infra"
	"crypto_feed/internal/infra/bitfinex"
	"crypto_feed/internal/infra/deribit"
	"crypto_feed/internal/infra/sink"
	"crypto_feed/internal/infra/storage"
	"crypto_feed/internal/service"
)

const statusBuffer = 256

// ConnectorStatus is the externally visible view of one connector.
type ConnectorStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Logger     *slog.Logger
	Storage    *storage.Storage // nil when storage is disabled
	Collector  *infra.Collector
	Prices     *service.PriceService
	Dispatcher *engine.Dispatcher
	Connectors []domain.Connector

	status         *storage.StatusWriter
	closers        []io.Closer
	stopDispatch   context.CancelFunc
	dispatcherDone chan struct{}
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config at path and builds every component. Nothing
// touches the network until Start.
func (b *Bootstrap) Initialize(path string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Logger.Info("🚀 Bootstrapping market feed...", slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	b.Prices = service.NewPriceService()
	sinks := []engine.Sink{b.Prices}
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		b.status = storage.NewStatusWriter(store, statusBuffer, b.Logger)
		// The writer drains into store, so it closes first.
		b.closers = append(b.closers, b.status, store)
		sinks = append(sinks, store)
		b.Logger.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Sinks
	if len(cfg.Sinks.Kafka.Brokers) > 0 {
		k := sink.NewKafka(cfg.Sinks.Kafka.Brokers, cfg.Sinks.Kafka.Topic)
		b.closers = append(b.closers, k)
		sinks = append(sinks, k)
		b.Logger.Info("✅ Kafka sink ready", slog.String("topic", cfg.Sinks.Kafka.Topic))
	}
	if cfg.Sinks.Redis.Addr != "" {
		r := sink.NewRedis(cfg.Sinks.Redis.Addr, cfg.Sinks.Redis.ChannelPrefix)
		b.closers = append(b.closers, r)
		sinks = append(sinks, r)
		b.Logger.Info("✅ Redis sink ready", slog.String("addr", cfg.Sinks.Redis.Addr))
	}

	// 5. Dispatcher
	b.Dispatcher = engine.NewDispatcher(cfg.Dispatcher.InboxSize, b.Logger.With(slog.String("component", "dispatcher")), sinks...)
	b.Collector = infra.NewCollector()

	// 6. Connectors
	resolve := infra.NewSymbolResolver(cfg.Symbols)
	for _, cc := range cfg.Connectors {
		c, err := b.buildConnector(cc, resolve)
		if err != nil {
			return fmt.Errorf("connector %s: %w", cc.Key(), err)
		}
		b.Connectors = append(b.Connectors, c)
	}
	b.Logger.Info("✅ Connectors configured", slog.Int("count", len(b.Connectors)))
	return nil
}

func (b *Bootstrap) buildConnector(cc domain.ConnectorConfig, resolve domain.SymbolResolver) (domain.Connector, error) {
	metrics := infra.NewMetrics()
	b.Collector.Add(cc.Key(), metrics)

	deps := connection.Deps{
		Logger:  b.Logger,
		Metrics: metrics,
		OnState: b.recordState,
	}

	switch cc.Exchange {
	case domain.ExchangeBitfinex:
		return bitfinex.New(cc.Group, cc, resolve, deps)
	case domain.ExchangeDeribit:
		return deribit.New(cc.Group, cc, resolve, deps)
	default:
		return nil, &domain.ConfigError{Field: "exchange", Err: fmt.Errorf("unsupported exchange %q", cc.Exchange)}
	}
}

// recordState runs on the connector's session goroutine and only queues the write.
func (b *Bootstrap) recordState(connector string, _, to domain.State, err error) {
	if b.status == nil {
		return
	}
	b.status.Record(connector, to, err)
}

// Start runs the dispatcher and connects every connector. A connector that
// fails its first dial is logged and left disconnected; the others keep going.
// The dispatcher outlives ctx so events emitted during Shutdown still reach
// the sinks.
func (b *Bootstrap) Start(ctx context.Context) {
	var dctx context.Context
	dctx, b.stopDispatch = context.WithCancel(context.Background())
	b.dispatcherDone = make(chan struct{})
	go func() {
		defer close(b.dispatcherDone)
		b.Dispatcher.Run(dctx)
	}()
	b.Logger.Info("✅ Dispatcher started")

	for _, c := range b.Connectors {
		if err := c.Connect(ctx, b.Dispatcher.Submit); err != nil {
			b.Logger.Error("Failed to connect", slog.String("connector", c.Name()), slog.Any("error", err))
			b.recordState(c.Name(), c.State(), c.State(), err)
			continue
		}
		if p, ok := c.(*deribit.Connector); ok {
			if err := p.Probe(ctx); err != nil {
				b.Logger.Warn("Version probe failed", slog.String("connector", c.Name()), slog.Any("error", err))
			}
		}
		go b.watch(ctx, c)
	}
}

func (b *Bootstrap) watch(ctx context.Context, c domain.Connector) {
	select {
	case <-ctx.Done():
	case <-c.Done():
		if err := c.Err(); err != nil && !errors.Is(err, domain.ErrStopped) {
			b.Logger.Error("❌ Connector terminated", slog.String("connector", c.Name()), slog.Any("error", err))
		}
	}
}

// Status reports the current state of every connector.
func (b *Bootstrap) Status() []ConnectorStatus {
	out := make([]ConnectorStatus, 0, len(b.Connectors))
	for _, c := range b.Connectors {
		s := ConnectorStatus{Name: c.Name(), State: c.State().String()}
		if err := c.Err(); err != nil {
			s.Error = err.Error()
		}
		out = append(out, s)
	}
	return out
}

// Shutdown stops all connectors concurrently, waiting at most timeout for
// their close handshakes, drains the dispatcher, then closes sinks and storage.
func (b *Bootstrap) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, c := range b.Connectors {
		wg.Add(1)
		go func(c domain.Connector) {
			defer wg.Done()
			if err := c.Stop(ctx); err != nil {
				b.Logger.Warn("Connector did not stop cleanly", slog.String("connector", c.Name()), slog.Any("error", err))
			}
		}(c)
	}
	wg.Wait()

	if b.stopDispatch != nil {
		b.stopDispatch()
		<-b.dispatcherDone
	}

	for _, cl := range b.closers {
		if err := cl.Close(); err != nil {
			b.Logger.Warn("Close failed", slog.Any("error", err))
		}
	}
}
