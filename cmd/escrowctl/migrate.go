package main

import (
	"fmt"

	"github.com/realestate-escrow/backend/internal/config"
	"github.com/realestate-escrow/backend/internal/db"
	"github.com/urfave/cli/v2"
)

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply pending SQL migrations",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "dir",
			Usage: "migrations directory (defaults to MIGRATIONS_DIR)",
		},
		&cli.BoolFlag{
			Name:  "list",
			Usage: "only list the migration files",
		},
	},
	Action: runMigrateCmd,
}

func runMigrateCmd(cctx *cli.Context) error {
	cfg := config.Load()
	dir := cctx.String("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	if cctx.Bool("list") {
		files, err := db.MigrationFiles(dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cctx.App.Writer, f.Version)
		}
		return nil
	}

	log := newLogger(cctx)
	defer log.Sync()

	pool, err := db.NewPostgresPool(cctx.Context, cfg.PostgresDSN, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := db.RunMigrations(cctx.Context, pool, dir, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cctx.App.Writer, "applied %d migration(s)\n", n)
	return nil
}
