package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server"
	"github.com/dmitrijs2005/outofsight/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig(os.Args[1:])
	logger := logging.NewJSON(os.Stdout, cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)

}
