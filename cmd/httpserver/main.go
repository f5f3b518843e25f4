package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/groupshare/cmd/flags"
	"github.com/ruteri/groupshare/httpserver"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "groupshare-server",
		Usage: "Serve group-scoped encrypted file transfers",
		Flags: append(append(append([]cli.Flag{}, flags.LogFlags...), flags.PipelineFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg := flags.ConfigFromCLI(cCtx)
			cfg.Auth = flags.AuthFromCLI(cCtx)
			pipeline, err := cfg.Open(cCtx.Context, logger)
			if err != nil {
				logger.Error("Failed to open pipeline", "err", err)
				return err
			}

			handler := httpserver.NewHandler(pipeline.Keys, pipeline.Orchestrator, cfg.MaxUploadBytes, logger)

			serverCfg := flags.ConfigureServer(cCtx, logger)
			serverCfg.Auth = cfg.Auth
			server, err := httpserver.New(serverCfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Server is running, press Ctrl+C to stop")
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
