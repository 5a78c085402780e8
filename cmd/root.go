/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func RootApp() *cli.App {
	return &cli.App{
		Name:  "collage",
		Usage: "A concurrent multi-source content aggregator",
		Description: `Aggregates images, status updates and news headlines from
		several providers into one bounded in-memory cache.

		Collage polls each configured provider on its own schedule, filters the
		results against author, URL and keyword bans, and serves the merged
		content through an HTTP API with server-sent change events.

		Flags can generally be set via environment variables, e.g.:

		--config => COLLAGE_CONFIG=collage.toml
		--port => COLLAGE_PORT=8080
		`,
		Commands: []*cli.Command{
			serveCmd(),
			collectCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}
