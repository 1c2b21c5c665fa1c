package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schedscaler/internal/app"
)

func main() {
	var (
		cfgPath string
		dryRun  bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml); empty uses defaults and environment")
	flag.BoolVar(&dryRun, "dry-run", false, "log scale decisions without applying them")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, app.WithDryRun(dryRun))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	// a fatal task error cancels the app before any signal arrives
	<-a.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		stopCancel()
		os.Exit(1)
	}
}
