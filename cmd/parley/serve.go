// ABOUTME: The serve subcommand: loads config, prints the startup banner and runs the gateway
// ABOUTME: Blocks until the signal context is canceled, then shuts down gracefully

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/gateway"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"override server.http_addr"`
}

func (c *ServeCmd) run(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.Addr != "" {
		cfg.Server.HTTPAddr = c.Addr
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s ", cfg.Storage.BaseURL)
	gray.Printf("(served at %s)\n", cfg.Storage.PublicPrefix)
	green.Print("    ▶ ")
	fmt.Printf("Models:    ")
	for i, p := range cfg.Models.Providers {
		if i > 0 {
			fmt.Print(", ")
		}
		cyan.Print(p.Name)
		if p.Name == cfg.Models.Default {
			gray.Print(" (default)")
		}
	}
	fmt.Println()
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled: set auth.jwt_secret to require bearer tokens")
	}
	fmt.Println()

	logger.Info("starting parley",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"models", len(cfg.Models.Providers),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
