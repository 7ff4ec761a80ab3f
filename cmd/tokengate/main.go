package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "tokengate",
		Usage: "Token-gated storefront CLI",
		Description: `A command-line tool for the tokengate storefront service.

Use this CLI to browse the catalog, send token payments, confirm
transactions, and inspect balances.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			productCommands(),
			orderCommands(),
			balanceCommand(),
			progressCommand(),
			transferCommand(),
			confirmCommand(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
