package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/config"
	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/api"
	pg "async-inference-ledger/internal/infra/db/postgres"
)

// seed creates (or tops up) a user and prints a bearer token for it, which
// is enough to exercise the job API locally.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	userID := flag.String("user", "", "user id (generated when empty)")
	credits := flag.Int64("credits", 1000, "credit balance to set")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	users := pg.NewUserRepo(pool)
	u, err := users.FindByID(ctx, repository.NoTX, *userID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound) || *userID == "":
		if u, err = model.NewUser(*userID, *credits); err != nil {
			log.Fatal().Err(err).Msg("new user")
		}
	case err != nil:
		log.Fatal().Err(err).Msg("find user")
	default:
		u.CreditBalance = *credits
	}
	if err := users.Save(ctx, repository.NoTX, u); err != nil {
		log.Fatal().Err(err).Msg("save user")
	}

	token, err := api.NewAuthManager(cfg.Auth.JWTSecret, *ttl).Mint(u.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("mint token")
	}
	fmt.Printf("user:    %s\ncredits: %d\ntoken:   %s\n", u.ID, u.CreditBalance, token)
}
