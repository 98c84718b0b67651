// Command engined runs the memory & context engine's HTTP server: it
// loads configuration, opens the conversation store, wires the
// tier/retrieval/orchestrator/gateway stack, and serves the engine's
// routes until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ctxmem/engine/internal/ctxbuild"
	"github.com/ctxmem/engine/internal/embedindex"
	"github.com/ctxmem/engine/internal/engineconfig"
	"github.com/ctxmem/engine/internal/httpapi"
	"github.com/ctxmem/engine/internal/kvcache"
	"github.com/ctxmem/engine/internal/llmgateway"
	"github.com/ctxmem/engine/internal/orchestrator"
	"github.com/ctxmem/engine/internal/sharedstate"
	"github.com/ctxmem/engine/internal/store"
	"github.com/ctxmem/engine/internal/streaming"
	"github.com/ctxmem/engine/internal/telemetry"
	"github.com/ctxmem/engine/internal/tiering"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (env vars still override)")
	flag.Parse()

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("engined: load config")
	}
	telemetry.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("engined: open store")
	}
	defer st.Close()

	tiers := tiering.NewManager(st, cfg.Tier1MaxMessages, cfg.Tier1Capacity, cfg.Tier2Capacity, time.Duration(cfg.TierTTLSeconds)*time.Second)

	embeds, err := embedindex.RebuildFromStore(ctx, st, "default", embedindex.DefaultParams())
	if err != nil {
		log.Fatal().Err(err).Msg("engined: rebuild embedding index")
	}
	if cfg.QdrantURL != "" {
		remote, err := embedindex.NewRemoteIndex(ctx, cfg.QdrantURL, cfg.QdrantCollection, cfg.EmbeddingDimension)
		if err != nil {
			log.Fatal().Err(err).Msg("engined: connect qdrant remote index")
		}
		defer remote.Close()
		embeds.SetRemote(remote)
	}

	kv := kvcache.NewManager(kvCacheConfigFrom(cfg.KVCache), st)

	runtime := llmgateway.NewRuntimeManager()
	if cfg.ModelPath != "" {
		if _, err := runtime.InitializeAuto(ctx, llmgateway.RuntimeConfig{
			ModelPath:  cfg.ModelPath,
			BinaryPath: cfg.LlamaBin,
			Host:       cfg.LlamaHost,
			Port:       cfg.LlamaPort,
		}); err != nil {
			log.Fatal().Err(err).Msg("engined: initialize model runtime")
		}
		defer runtime.Shutdown()
	}
	gateway := llmgateway.NewHTTPGateway(runtime, time.Duration(cfg.GenerateTimeoutSeconds)*time.Second)

	orch := orchestrator.New(true, tiers, st, embeds, gateway, kv, orchestrator.DefaultConfig(), ctxbuildConfigFrom(cfg))

	counters := &sharedstate.AtomicCounters{}
	pipeline := &streaming.Pipeline{
		Hierarchy: sharedstate.NewConversationHierarchy(counters),
		Counters:  counters,
		Store:     st,
		Tiers:     tiers,
		Orch:      orch,
		Gateway:   gateway,
	}

	server := httpapi.NewServer(st, tiers, orch, gateway, embeds, kv, pipeline)

	addr := cfg.APIHost + ":" + strconv.Itoa(cfg.APIPort)
	httpServer := &http.Server{Addr: addr, Handler: server}

	go func() {
		log.Info().Str("addr", addr).Msg("engined: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("engined: listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("engined: shutdown error")
	} else {
		log.Info().Msg("engined: stopped")
	}
}

func kvCacheConfigFrom(c engineconfig.KVCacheConfig) kvcache.Config {
	strategyKind := kvcache.SnapshotIncremental
	switch c.SnapshotStrategy {
	case "none":
		strategyKind = kvcache.SnapshotNone
	case "full":
		strategyKind = kvcache.SnapshotFull
	case "adaptive":
		strategyKind = kvcache.SnapshotAdaptive
	}
	return kvcache.Config{
		Enabled:                 c.Enabled,
		RetrievalEnabled:        c.RetrievalEnabled,
		ClearAfterConversations: c.ClearAfterConversations,
		MemoryThresholdPercent:  c.MemoryThresholdPercent,
		BridgeEnabled:           c.BridgeEnabled,
		MaxCacheEntries:         c.MaxCacheEntries,
		MinImportanceToPreserve: c.MinImportanceToPreserve,
		GenerateCacheEmbeddings: c.GenerateCacheEmbeddings,
		PreserveSystemPrompts:   c.PreserveSystemPrompts,
		PreserveCodeEntries:     c.PreserveCodeEntries,
		SnapshotStrategy: kvcache.SnapshotStrategy{
			Kind:                  strategyKind,
			IntervalConversations: c.SnapshotInterval,
			MaxSnapshots:          c.SnapshotMaxKept,
		},
		ArchiveBucket: c.ArchiveBucket,
		ArchiveRegion: c.ArchiveRegion,
	}
}

func ctxbuildConfigFrom(cfg engineconfig.Config) ctxbuild.Config {
	out := ctxbuild.DefaultConfig()
	out.MaxTotalTokens = cfg.MaxTotalTokens
	out.MinCurrentContextRatio = cfg.MinCurrentContextRatio
	out.MaxSummaryRatio = cfg.MaxSummaryRatio
	out.PreserveSystemMessages = cfg.PreserveSystemMessages
	out.EnableDetailInjection = cfg.EnableDetailInjection
	out.DetailInjectionThreshold = cfg.DetailInjectionThresh
	return out
}
