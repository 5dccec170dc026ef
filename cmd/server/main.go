// The server command is the main entrypoint for running meshchat. It takes
// care of initializing everything as well as running the full set of room
// servers and the private chat server in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/voyeger/meshchat/internal"
	"github.com/voyeger/meshchat/internal/core"
)

func main() {
	app := &cli.App{
		Name:        "meshchat",
		Usage:       "mesh chat server",
		Description: "Runs the room server mesh and the private chat server.",
		Action:      run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing the server config file",
				EnvVars: []string{"MESHCHAT_CONFIG"},
				Value:   "./",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	config, err := core.LoadConfig(cliCtx.String("config"))
	if err != nil {
		return err
	}

	// Bind the Controller to one top-level server context so that we can
	// shut down cleanly. Ctrl-C cancels it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("waiting to shut down gracefully...")
		cancel()
	}()

	controller := &internal.Controller{Config: config}
	if err := controller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Println("shut down")
	return nil
}
