package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sodazone/xcmon/app/monitor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := monitor.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	app.SetupServer()
	app.Start(ctx)
}
