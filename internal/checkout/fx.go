package checkout

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payflow/internal/checkout/channel"
	"github.com/smallbiznis/payflow/internal/checkout/continuation"
	"github.com/smallbiznis/payflow/internal/checkout/draft"
	"github.com/smallbiznis/payflow/internal/checkout/presentation"
	"github.com/smallbiznis/payflow/internal/checkout/session"
	"github.com/smallbiznis/payflow/internal/checkout/surface"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module assembles the checkout protocol: the challenge surface, the
// continuation driver, the four result channels behind one mux, and the
// session state machine that coordinates them.
var Module = fx.Module("checkout",
	fx.Provide(
		NewRedisClient,
		channel.NewHub,
		NewOriginAllowList,
		channel.NewDirectChannel,
		NewSignalStore,
		NewBroadcaster,
		NewSlotStore,
		NewMux,
		NewBlobStore,
		NewSurfaceManager,
		NewDriver,
		presentation.NewPresenter,
		NewDraftStore,
		session.NewService,
	),
)

// NewRedisClient returns nil when no Redis address is configured; every
// consumer falls back to its in-memory flavor in that case.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewOriginAllowList builds the direct-channel allow-list from our own public
// URL, the gateway's sandbox domains, and any extra configured origins.
func NewOriginAllowList(cfg config.Config, holder *config.GatewayConfigHolder) *channel.OriginAllowList {
	origins := []string{cfg.PublicURL}
	origins = append(origins, holder.Get().SandboxOrigins...)
	origins = append(origins, cfg.AllowedResultOrigins...)
	return channel.NewOriginAllowList(origins...)
}

func NewSignalStore(client *redis.Client) channel.SignalStore {
	if client != nil {
		return channel.NewRedisSignalStore(client)
	}
	return channel.NewMemorySignalStore()
}

func NewBroadcaster(client *redis.Client) channel.Broadcaster {
	if client != nil {
		return channel.NewRedisBroadcaster(client)
	}
	return channel.NewMemoryBroadcaster()
}

func NewSlotStore() channel.SlotStore {
	return channel.NewMemorySlotStore()
}

type MuxParams struct {
	fx.In

	Log         *zap.Logger
	Direct      *channel.DirectChannel
	SignalStore channel.SignalStore
	Broadcaster channel.Broadcaster
	SlotStore   channel.SlotStore

	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewMux(p MuxParams) *channel.Mux {
	return channel.NewMux(p.Log, p.ObsMetrics,
		p.Direct,
		channel.NewPersistedChannel(p.SignalStore),
		channel.NewBroadcastChannel(p.Broadcaster),
		channel.NewPolledSlotChannel(p.SlotStore, channel.DefaultSlotPollInterval),
	)
}

func NewBlobStore() *surface.BlobStore {
	return surface.NewBlobStore(surface.DefaultBlobLimit)
}

type SurfaceParams struct {
	fx.In

	Cfg   config.Config
	Blobs *surface.BlobStore
	Log   *zap.Logger

	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewSurfaceManager(p SurfaceParams) *surface.Manager {
	return surface.NewManager(surface.ManagerParams{
		HostOrigin: p.Cfg.PublicURL,
		Strategies: surface.DefaultStrategies(p.Blobs),
		Log:        p.Log,
		Metrics:    p.ObsMetrics,
	})
}

func NewDriver(hub *channel.Hub, clk clock.Clock, log *zap.Logger) *continuation.Driver {
	return continuation.NewDriver(continuation.DriverParams{
		Hub:   hub,
		Clock: clk,
		Log:   log,
	})
}

func NewDraftStore(client *redis.Client) draft.Store {
	if client != nil {
		return draft.NewRedisStore(client)
	}
	return draft.NewMemoryStore()
}
