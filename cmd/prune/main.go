package main

import (
	"context"
	"flag"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"coinwatch/internal/config"
	"coinwatch/internal/model"
)

var (
	configFile = flag.String("f", "etc/coinwatch.yaml", "the config file")
	retention  = flag.Duration("retention", 7*24*time.Hour, "how much tick history to keep")
	timeout    = flag.Duration("timeout", time.Minute, "delete statement timeout")
)

// prune trims old rows from the tick archive. Meant to run from cron; the
// in-memory history window is bounded on its own and needs no pruning.
func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatalf("[main] postgres.dsn is required for pruning")
	}
	if *retention <= 0 {
		log.Fatalf("[main] retention must be positive, got %s", *retention)
	}

	conn := sqlx.NewSqlConn("pgx", cfg.Postgres.DSN)
	ticks := model.NewPriceTicksModel(conn)

	cutoff := time.Now().Add(-*retention).UTC()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	deleted, err := ticks.DeleteBefore(ctx, cutoff.UnixMilli())
	if err != nil {
		log.Fatalf("[prune] [ERROR] %v, took %dms", err, time.Since(start).Milliseconds())
	}
	log.Printf("[prune] [OK] deleted %d ticks older than %s, took %dms",
		deleted, cutoff.Format(time.RFC3339), time.Since(start).Milliseconds())
}
