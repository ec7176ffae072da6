package galecli

import (
	"flag"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/foxcpp/gale/framework/log"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Usage = "unified SMS/MMS/Email messaging gateway"
	app.Description = `Gale accepts outbound messages over HTTP, dispatches them to channel
providers, ingests provider webhooks into durable inbound events and groups
everything into canonical conversations.

This executable can be used to start the gateway ('run') and to manage the
database used by it (all other subcommands).
`
	app.Authors = []*cli.Author{
		{
			Name: "Gale Messaging Gateway maintainers & contributors",
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			log.Println(err)
			cli.OsExiter(1)
		}
	}
	app.EnableBashCompletion = true
	app.Commands = []*cli.Command{
		{
			Name:   "generate-man",
			Hidden: true,
			Action: func(c *cli.Context) error {
				man, err := app.ToMan()
				if err != nil {
					return err
				}
				fmt.Println(man)
				return nil
			},
		},
		{
			Name:   "generate-fish-completion",
			Hidden: true,
			Action: func(c *cli.Context) error {
				cp, err := app.ToFishCompletion()
				if err != nil {
					return err
				}
				fmt.Println(cp)
				return nil
			},
		},
	}
}

func AddGlobalFlag(f cli.Flag) {
	app.Flags = append(app.Flags, f)
	if err := f.Apply(flag.CommandLine); err != nil {
		log.Println("GlobalFlag", f, "could not be mapped to stdlib flag:", err)
	}
}

func AddSubcommand(cmd *cli.Command) {
	app.Commands = append(app.Commands, cmd)

	if cmd.Name == "run" {
		// Plain 'gale' starts the gateway too. Flags need to reach the
		// stdlib set before Run is called.
		app.Action = cmd.Action
		app.Flags = append(app.Flags, cmd.Flags...)
		for _, f := range cmd.Flags {
			if err := f.Apply(flag.CommandLine); err != nil {
				log.Println("GlobalFlag", f, "could not be mapped to stdlib flag:", err)
			}
		}
	}
}

func Run() {
	// Actual entry point is registered in gale.go.
	mapStdlibFlags(app)
	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
	}
}
