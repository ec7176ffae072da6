/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package ctl

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/foxcpp/gale/framework/log"
	galecli "github.com/foxcpp/gale/internal/cli"
	"github.com/foxcpp/gale/internal/metrics"
	"github.com/foxcpp/gale/internal/storage/pgsql"
)

func init() {
	dsnFlag := &cli.StringFlag{
		Name:    "dsn",
		Usage:   "Postgres connection string",
		EnvVars: []string{"DATABASE_URL"},
	}

	galecli.AddSubcommand(
		&cli.Command{
			Name:  "db",
			Usage: "Manage the gateway database",
			Subcommands: []*cli.Command{
				{
					Name:   "init",
					Usage:  "Apply the embedded schema and create the provider identities",
					Action: dbInit,
					Flags:  []cli.Flag{dsnFlag},
				},
				{
					Name:   "seed",
					Usage:  "Insert the demo conversations (idempotent)",
					Action: dbSeed,
					Flags:  []cli.Flag{dsnFlag},
				},
			},
		})
}

func openStore(ctx *cli.Context) (*pgsql.Store, error) {
	dsn := ctx.String("dsn")
	if dsn == "" {
		return nil, cli.Exit("Error: --dsn is not given and DATABASE_URL is not set", 2)
	}
	store, err := pgsql.New(dsn, log.DefaultLogger, metrics.New())
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	return store, nil
}

func dbInit(ctx *cli.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitSchema(ctx.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	if err := store.EnsureIdentities(ctx.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	fmt.Println("schema initialized")
	return nil
}

func dbSeed(ctx *cli.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SeedDemo(ctx.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	fmt.Println("demo data seeded")
	return nil
}
