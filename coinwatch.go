package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/zeromicro/go-zero/core/proc"
	"github.com/zeromicro/go-zero/rest"

	"coinwatch/internal/cli"
	"coinwatch/internal/config"
	"coinwatch/internal/handler"
	"coinwatch/internal/svc"
)

var configFile = flag.String("f", "etc/coinwatch.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	ctx := svc.NewServiceContext(*cfg)
	handler.RegisterHandlers(server, ctx)

	feedCtx, cancel := context.WithCancel(context.Background())
	ctx.Start(feedCtx)
	proc.AddShutdownListener(func() {
		cancel()
		ctx.Shutdown()
	})

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
