package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"

	"github.com/jambasimaging/bizdesk/internal/admin/cli"
	"github.com/jambasimaging/bizdesk/internal/logging"
	"github.com/jambasimaging/bizdesk/internal/server/config"
	"github.com/jambasimaging/bizdesk/internal/server/repositories/repomanager"
	"github.com/jambasimaging/bizdesk/internal/server/services"
)

// commandArgs returns the arguments from the first known command on, so
// configuration flags may precede it.
func commandArgs(args []string) []string {
	for i, a := range args {
		switch a {
		case "create-user", "set-password", "help":
			return args[i:]
		}
	}
	return nil
}

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(logging.Format(cfg.LogFormat), cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	app := cli.NewApp(services.NewUserAdminService(db, rm, logger), os.Stdin, os.Stdout)
	if err := app.Run(ctx, commandArgs(os.Args[1:])); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}
}
