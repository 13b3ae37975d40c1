// ABOUTME: Entry point for the parley chat backend and its command line client
// ABOUTME: Parses subcommands with go-flags and dispatches serve, chat, stop and health

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                   _
 _ __   __ _ _ __| | ___ _   _
| '_ \ / _' | '__| |/ _ \ | | |
| |_) | (_| | |  | |  __/ |_| |
| .__/ \__,_|_|  |_|\___|\__, |
|_|                      |___/
`

// Options is the root command. Subcommands are selected by go-flags and
// dispatched in main.
type Options struct {
	Config  string `short:"f" long:"config" env:"PARLEY_CONFIG" description:"config YAML path"`
	Version bool   `short:"v" long:"version" description:"print version and exit"`

	Serve  ServeCmd  `command:"serve" description:"Start the chat server"`
	Chat   ChatCmd   `command:"chat" description:"Send one chat turn and render the streamed reply"`
	Stop   StopCmd   `command:"stop" description:"Ask a running turn to stop"`
	Health HealthCmd `command:"health" description:"Check server health"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.SubcommandsOptional = true

	rest, err := parser.ParseArgs(args)
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(ferr.Message)
			return nil
		}
		return err
	}

	if opts.Version {
		fmt.Println(version)
		return nil
	}
	if parser.Active == nil {
		if len(rest) > 0 {
			return fmt.Errorf("unknown command: %s", rest[0])
		}
		parser.WriteHelp(os.Stdout)
		return nil
	}

	switch parser.Active.Name {
	case "serve":
		return opts.Serve.run(ctx, opts.Config)
	case "chat":
		return opts.Chat.run(ctx, opts.Config, os.Stdout)
	case "stop":
		return opts.Stop.run(ctx, opts.Config)
	case "health":
		return opts.Health.run(ctx, opts.Config)
	default:
		return fmt.Errorf("unknown command: %s", parser.Active.Name)
	}
}
