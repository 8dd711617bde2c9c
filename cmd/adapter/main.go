package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/pkg/sys"

	"main/internal/adapter"
	"main/internal/correlate"
	"main/internal/dispatch"
	"main/internal/feed"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Risk limits reload interval (0=disable)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv load failed: %v", err)
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profile.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "oms/adapter",
			ServerAddress:   loaded.Profile.ServerAddress,
			Tags: map[string]string{
				"env": "local",
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := make([]adapter.Option, 0, 6)

	var store *correlate.Store
	if loaded.StorePath != "" {
		store, err = correlate.OpenStore(loaded.StorePath)
		if err != nil {
			log.Fatalf("correlation store open failed: %v", err)
		}
		defer store.Close()
		opts = append(opts, adapter.WithStore(store))
	}

	if loaded.Journal != nil {
		jnl, err := journal.Open(*loaded.Journal)
		if err != nil {
			log.Fatalf("journal open failed: %v", err)
		}
		defer jnl.Close()
		opts = append(opts, adapter.WithJournal(jnl))
	}

	queue := dispatch.NewQueue(loaded.Feed.QueueCapacity)
	dispatcher := dispatch.NewDispatcher(queue)
	opts = append(opts, adapter.WithDispatcher(dispatcher), adapter.WithMetrics(obs.NewMetrics()))

	var ad *adapter.Adapter
	paper := venue.NewPaper(func(r schema.ExecutionReport) {
		ad.OnExecutionReport(r)
	})
	defer paper.Close()
	opts = append(opts, adapter.WithVenue(paper))

	ad, err = adapter.New(adapter.Config{
		Registry:  loaded.Registry,
		Accounts:  loaded.Accounts,
		Retention: loaded.Retention,
	}, opts...)
	if err != nil {
		log.Fatalf("adapter init failed: %v", err)
	}

	for symbol, mark := range loaded.Marks {
		ad.SetMark(symbol, mark)
		paper.SetMark(symbol, mark)
	}

	if loaded.Feed.SocketPath != "" {
		eventFeed, err := feed.New(loaded.Feed.SocketPath, queue)
		if err != nil {
			log.Fatalf("event feed init failed: %v", err)
		}
		go func() {
			if err := eventFeed.Run(ctx); err != nil {
				log.Printf("event feed stopped: %v", err)
			}
		}()
	}

	if *configReload > 0 {
		go watchLimits(ctx, *configPath, *configReload, ad)
	}

	log.Printf("adapter up, accounts=%d symbols=%d", len(loaded.Accounts), loaded.Registry.SymbolCount())
	<-sys.Shutdown()
	log.Printf("shutdown requested")

	cancel()
	queue.Close()

	if loaded.SnapshotDir != "" {
		if err := ad.WriteSnapshots(loaded.SnapshotDir); err != nil {
			log.Printf("position snapshot failed: %v", err)
		}
	}

	snapshot := ad.Metrics()
	log.Printf("metrics: calls=%v rejects=%v duplicates=%d fills=%d drops=%d call_latency=%+v",
		snapshot.CallCounts, snapshot.RejectCounts, snapshot.Duplicates,
		snapshot.Fills, snapshot.QueueDrops, snapshot.CallLatency)
}

// watchLimits polls the config file and hot-reloads per-account risk
// limits when it changes. Registry and account topology changes require
// a restart.
func watchLimits(ctx context.Context, path string, interval time.Duration, ad *adapter.Adapter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Printf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			limits, err := ops.LoadLimits(path)
			if err != nil {
				log.Printf("limits reload failed: %v", err)
				continue
			}
			for account, l := range limits {
				if err := ad.SetLimits(account, l); err != nil {
					log.Printf("limits apply failed for %s: %v", account, err)
				}
			}
			lastMod = info.ModTime()
			log.Printf("risk limits reloaded: %s", path)
		}
	}
}
