package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"duckhunt/internal/app"
	"duckhunt/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run keeps main testable: load config, build the application, serve
// until a signal arrives, then stop.
func run() error {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("DUCKHUNT_CONFIG_FILE")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("starting application: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	log.Printf("received %v", sig)

	return application.Stop()
}
