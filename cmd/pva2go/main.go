// Command pva2go runs the PVA gateway's subscription cache, group-PV
// engine, and diagnostics HTTP server as one process. Its flag parsing,
// config load, provider wiring, and signal-driven graceful shutdown
// follow cmd/cc-backend/main.go and server.go's own shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/epics-base/pva2go/internal/api"
	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/config"
	"github.com/epics-base/pva2go/internal/groupconfig"
	"github.com/epics-base/pva2go/internal/grouppv"
	"github.com/epics-base/pva2go/internal/metrics"
	"github.com/epics-base/pva2go/internal/taskmanager"
	"github.com/epics-base/pva2go/internal/upstream"
	"github.com/epics-base/pva2go/internal/upstream/memorystore"
	"github.com/epics-base/pva2go/internal/upstream/natsprovider"
	"github.com/epics-base/pva2go/pkg/log"
)

func main() {
	var flagConfigFile string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "path to the gateway's configuration `file`")
	flag.Parse()

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("reading %s: %v", flagConfigFile, err)
	}
	if raw == nil {
		raw = []byte(`{}`)
	}

	cfg, warnings, err := config.Load(raw)
	if err != nil {
		log.Fatalf("loading %s: %v", flagConfigFile, err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	log.SetLogLevel(cfg.LogLevel)

	provider, closeProvider, err := buildProvider(*cfg)
	if err != nil {
		log.Fatalf("building upstream provider %q: %v", cfg.Upstream.Provider, err)
	}
	defer closeProvider()

	cache := channelcache.New(provider)
	defer cache.Close()

	groups := loadGroups(context.Background(), cache, cfg.GroupConfigPath)
	defer func() {
		for _, g := range groups {
			g.Close()
		}
	}()

	tasks, err := taskmanager.New()
	if err != nil {
		log.Fatalf("starting task manager: %v", err)
	}
	if err := tasks.RegisterCacheSweeper(cache, cfg.SweepInterval); err != nil {
		log.Fatalf("registering cache sweeper: %v", err)
	}
	if err := tasks.RegisterProviderHealthCheck(provider, cfg.SweepInterval); err != nil {
		log.Fatalf("registering upstream health probe: %v", err)
	}
	tasks.Start()

	srv := api.New(cfg.Listen, cache)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(); err != nil {
			log.Fatalf("diagnostics server: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("diagnostics server shutdown: %v", err)
	}
	if err := tasks.Shutdown(); err != nil {
		log.Errorf("task manager shutdown: %v", err)
	}

	wg.Wait()
	log.Info("graceful shutdown complete")
}

// buildProvider constructs the upstream.Provider selected by
// cfg.Upstream.Provider, and a func to release whatever connection it
// opened.
func buildProvider(cfg config.GatewayConfig) (upstream.Provider, func(), error) {
	switch cfg.Upstream.Provider {
	case "", "memorystore":
		return memorystore.New(), func() {}, nil
	case "nats":
		natsCfg, err := natsprovider.DecodeConfig(cfg.Upstream.NATS)
		if err != nil {
			return nil, nil, fmt.Errorf("nats config: %w", err)
		}
		client, err := natsprovider.NewClient(natsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		provider := natsprovider.NewProvider(client, natsCfg.SubjectPrefix)
		return provider, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown upstream provider %q", cfg.Upstream.Provider)
	}
}

// loadGroups reads and builds every GroupPV named by the group
// configuration file at path. A missing or empty path is not an error —
// a gateway with no composite PVs configured is a valid deployment.
func loadGroups(ctx context.Context, cache *channelcache.ChannelCache, path string) []*grouppv.GroupPV {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("reading group configuration %s: %v", path, err)
		return nil
	}

	doc, err := groupconfig.Load(raw)
	if err != nil {
		log.Errorf("parsing group configuration %s: %v", path, err)
		return nil
	}
	for _, w := range doc.Warnings {
		metrics.ConfigWarnings.Inc()
		log.Warn(w)
	}

	groups := make([]*grouppv.GroupPV, 0, len(doc.Groups))
	for _, def := range doc.Groups {
		g, err := grouppv.New(ctx, cache, def)
		if err != nil {
			log.Errorf("building group %q: %v", def.Name, err)
			continue
		}
		groups = append(groups, g)
	}
	return groups
}
