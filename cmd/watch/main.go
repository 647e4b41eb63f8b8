package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinwatch/internal/config"
	"coinwatch/pkg/feed"
	"coinwatch/pkg/reconcile"

	// Import for side-effects: registers source adapters
	_ "coinwatch/pkg/feed/sources"
)

const (
	printInterval   = 10 * time.Second // console snapshot interval
	shutdownTimeout = 10 * time.Second // grace period for shutdown
)

var configFile = flag.String("f", "etc/coinwatch.yaml", "the config file")

// watch connects every configured source and prints the reconciled view on
// a schedule. Useful for eyeballing source agreement before deploying a
// config change; nothing is persisted.
func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[main] Starting feed watch...")

	appCfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	feedCfg := appCfg.Feed.Value
	if feedCfg == nil {
		log.Fatalf("[main] Feed config is required; set feed.file in %s", *configFile)
	}

	log.Printf("[main] Configuration loaded:")
	log.Printf("  - Symbols: %v", feedCfg.Symbols)
	log.Printf("  - Sources (best first): %v", feedCfg.ByPriority())
	log.Printf("  - Print Interval: %s", printInterval)

	reconcilerCfg, historyCfg := reconcile.FromFeedConfig(feedCfg)
	history := reconcile.NewHistoryTracker(historyCfg)
	stats := reconcile.NewStatCalculator(reconcile.StatsConfig{}, history)
	reconciler := reconcile.New(reconcilerCfg, history, stats)

	adapters, err := feedCfg.BuildAdapters(feed.Deps{
		Sink: reconciler.Ingest,
		OnState: func(source feed.Source, connected bool, lastErr string) {
			if connected {
				log.Printf("[feed.%s] [OK] connected", source)
				return
			}
			log.Printf("[feed.%s] [ERROR] disconnected: %s", source, lastErr)
		},
	})
	if err != nil {
		log.Fatalf("[main] Failed to build feed adapters: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for name, adapter := range adapters {
		adapter.Start(ctx)
		log.Printf("[main] Started adapter %s (source=%s)", name, adapter.Source())
	}

	log.Println("[main] Feed watch started. Press Ctrl+C to stop.")
	runPrinter(ctx, reconciler)

	log.Println("[main] Shutdown signal received, stopping adapters...")
	done := make(chan struct{})
	go func() {
		for _, adapter := range adapters {
			adapter.Stop()
		}
		reconciler.Flush()
		reconciler.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[main] All adapters stopped cleanly")
	case <-time.After(shutdownTimeout):
		log.Println("[main] Shutdown timeout exceeded, forcing exit")
	}

	log.Println("[main] Feed watch stopped")
}

// runPrinter prints the reconciled snapshot on a schedule until ctx is done.
func runPrinter(ctx context.Context, reconciler *reconcile.Reconciler) {
	ticker := time.NewTicker(printInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printSnapshot(reconciler)
		}
	}
}

func printSnapshot(reconciler *reconcile.Reconciler) {
	states := reconciler.SnapshotAll()
	if len(states) == 0 {
		log.Printf("[snapshot] [WARN] no reconciled prices yet (primary=%s live=%v)",
			reconciler.PrimarySource(), reconciler.Live())
		return
	}
	log.Printf("[snapshot] [OK] %d symbols, primary=%s", len(states), reconciler.PrimarySource())
	for _, state := range states {
		age := time.Since(time.UnixMilli(state.LastUpdate)).Round(time.Millisecond)
		log.Printf("  - %s: price=%.2f src=%s change_24h=%.2f%% high=%.2f low=%.2f conf=%s age=%s",
			state.Symbol,
			state.Price,
			state.Source,
			state.Change24h,
			state.High24h,
			state.Low24h,
			state.Confidence,
			age)
	}
}
