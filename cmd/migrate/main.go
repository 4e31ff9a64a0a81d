package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	pg "async-inference-ledger/internal/infra/db/postgres"
)

// Usage: migrate [-dsn URL] <up|down|status|version|redo|reset> [args]
// The DSN falls back to INFERENCE_DATABASE_URL.
func main() {
	dsn := flag.String("dsn", "", "postgres connection URL")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	_ = godotenv.Load()

	if *dsn == "" {
		*dsn = os.Getenv("INFERENCE_DATABASE_URL")
	}
	if *dsn == "" {
		log.Fatal().Msg("no database URL: pass -dsn or set INFERENCE_DATABASE_URL")
	}
	command := "up"
	var args []string
	if flag.NArg() > 0 {
		command, args = flag.Arg(0), flag.Args()[1:]
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := pg.Migrate(ctx, db, command, args...); err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("migration failed")
	}
	log.Info().Str("command", command).Msg("migration finished")
}
