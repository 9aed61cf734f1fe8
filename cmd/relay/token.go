package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cloudfly/chat-relay/internal/auth"
	"github.com/cloudfly/chat-relay/internal/config"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a signed connection token for local testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "User id", Required: true},
			&cli.StringFlag{Name: "tenant", Usage: "Tenant id", Required: true},
			&cli.StringFlag{Name: "name", Usage: "Display name", Value: "Unknown"},
			&cli.StringSliceFlag{Name: "role", Usage: "Role (repeatable)", Value: []string{"USER"}},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.JWTSecret == "" {
				return cli.Exit("JWT_SECRET is not set", 1)
			}

			token, err := auth.IssueToken(cfg.SigningKey(), auth.Identity{
				UserID:   c.String("user"),
				TenantID: c.String("tenant"),
				Roles:    c.StringSlice("role"),
				UserName: c.String("name"),
			}, c.Duration("ttl"))
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
}
