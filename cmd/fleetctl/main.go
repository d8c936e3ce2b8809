// Command fleetctl drives the fleet sync layer from a terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fleet-sync/cmd/fleetctl/commands"
	"fleet-sync/internal/app"
	"fleet-sync/internal/config"

	"github.com/golang/glog"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			glog.Warningf("fleetctl: close: %v", err)
		}
		glog.Flush()
	}()

	if err := a.Start(ctx); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}

	cli := commands.New(a, cfg.Locale)
	if err := cli.Execute(ctx); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}
	return 0
}
