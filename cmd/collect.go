/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"collage/aggregator"
	"collage/config"
	"collage/models"
)

// collectCmd represents the collect command
func collectCmd() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "Log all aggregated items to the command line",
		Description: `Starts the configured provider feeds without the HTTP server and
logs every aggregated item to the command line.

Can be used if you want to collect the aggregated content by passing the
output to a file or another application.

Returns each item as a JSON object on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"COLLAGE_CONFIG"},
				Value:   "collage.toml",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			agg, err := aggregator.New(aggregator.Options{
				Config: cfg,
				OnAdded: func(ev models.ItemAddedEvent) {
					printStdout(ev.Item)
				},
			})
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
			defer stop()

			fmt.Fprintln(os.Stderr, "Starting feeds...")
			if err := agg.Start(sigCtx); err != nil {
				return err
			}

			<-sigCtx.Done()
			fmt.Fprintln(os.Stderr, "Stopping feeds")
			agg.Stop()

			return nil
		},
	}
}

func printStdout(item *models.Item) {
	// Print as single JSON string on a single line
	itemJson, err := json.Marshal(item)
	if err == nil {
		fmt.Println(string(itemJson))
	}
}
