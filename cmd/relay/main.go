// Package main is the entry point for the realtime relay.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is injected via -ldflags "-X main.Version=..."
var Version = "dev"

const serviceName = "chat-relay"

func main() {
	app := &cli.Command{
		Name:    "relay",
		Usage:   "Tenant-scoped realtime chat relay",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional YAML configuration file; environment variables take precedence",
				Sources: cli.EnvVars("RELAY_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			tokenCommand(),
			versionCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(ctx context.Context, c *cli.Command) error {
			fmt.Printf("%s %s\n", serviceName, Version)
			return nil
		},
	}
}
