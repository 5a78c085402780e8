/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"collage/aggregator"
	"collage/config"
	"collage/models"
	"collage/server"
)

// serveCmd represents the serve command
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregated content",
		Description: `Starts the collage HTTP server and the configured provider feeds.

Launches the HTTP server on the specified or default port and spawns one feed
per packed provider query. Aggregated items are kept in a bounded in-memory
cache and served through the HTTP API, with server-sent events for live
updates.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"COLLAGE_CONFIG"},
				Value:   "collage.toml",
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port to listen on",
				EnvVars: []string{"COLLAGE_PORT"},
				Value:   3000,
			},
			&cli.StringFlag{
				Name:    "allow-origin",
				Usage:   "Origin allowed to call the API from a browser",
				EnvVars: []string{"COLLAGE_ALLOW_ORIGIN"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting collage...")

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			bc := server.NewBroadcaster()

			agg, err := aggregator.New(aggregator.Options{
				Config:   cfg,
				OnAdded:  func(ev models.ItemAddedEvent) { bc.BroadcastItem(ev) },
				OnHealth: func(ev models.SourceHealthEvent) { bc.BroadcastHealth(ev) },
				OnPurged: func(ev models.CachePurgedEvent) { bc.BroadcastPurge(ev) },
			})
			if err != nil {
				return err
			}

			app := server.Server(&server.ServerConfig{
				AllowOrigin: ctx.String("allow-origin"),
				Aggregator:  agg,
				Broadcaster: bc,
			})

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			var wg sync.WaitGroup

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				app.ShutdownWithTimeout(60 * time.Second)
				defer wg.Add(-2) // Decrement the waitgroup counter by 2 after shutdown of server and feeds
				agg.Stop()
				bc.Shutdown()
			}()

			if err := agg.Start(ctx.Context); err != nil {
				return err
			}

			go func() {
				fmt.Println("Starting server...")
				if err := app.Listen(fmt.Sprintf(":%d", ctx.Int("port"))); err != nil {
					log.Panic(err)
				}
			}()

			// Wait for both the server and feeds to shutdown
			wg.Add(2)
			wg.Wait()

			fmt.Println("Done!")

			return nil
		},
	}
}
