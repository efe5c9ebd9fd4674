package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/clinicvault/internal/server"
	"github.com/dmitrijs2005/clinicvault/internal/server/config"
)

func main() {

	// Cancelling on a signal also aborts a startup still waiting for the
	// database.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("clinicvault server: %v", err)
	}

	app.Run(ctx)

}
