package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gexbot/internal/app"
)

func main() {
	var cfgPath string
	var envPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.StringVar(&envPath, "env", "", "optional .env file with secrets")
	flag.Parse()

	// Secrets come from the environment; a .env file is a convenience for
	// local runs, never required.
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintln(os.Stderr, "fatal: load env:", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
