// Command backfill rewrites the username on historical messages after a
// rename:
//
//	backfill -from alice -to alicia
//
// Each message is renamed on its own, so an interrupted or partly failed run
// is finished by running the same command again. A run that finds nothing
// left to rename exits 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/config"
	"github.com/sakif/fleetchat/internal/identity"
	sqliteRepo "github.com/sakif/fleetchat/internal/repository/sqlite"
	"github.com/sakif/fleetchat/internal/service"
)

func main() {
	from := flag.String("from", "", "username currently on the messages")
	to := flag.String("to", "", "username to write")
	dotenv := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := run(*dotenv, *from, *to); err != nil {
		fmt.Fprintln(os.Stderr, "backfill:", err)
		os.Exit(1)
	}
}

func run(dotenv, from, to string) error {
	if from == "" || to == "" {
		flag.Usage()
		return fmt.Errorf("both -from and -to are required")
	}

	cfg, err := config.Load(dotenv)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	provider := identity.NewLocal(db, auth.NewPasswordService(), logger)
	registry := service.NewRegistry(db, db, provider, service.RegistryConfig{
		LoginDomain: cfg.LoginDomain,
		Claims:      cfg.UsernameClaims,
	}, logger)
	sync := service.NewProfileSync(db, db, db, provider, registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := sync.BackfillUsername(ctx, from, to)
	fmt.Printf("matched=%d updated=%d failed=%d\n", result.Matched, result.Updated, result.Failed)
	return err
}
