// Command token mints a bearer token for local testing of the realtime
// server. It signs with the same JWT_SECRET the server verifies with.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"eventhub-realtime/internal/auth"
	"eventhub-realtime/internal/config"
	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/logger"
)

func main() {
	userID := flag.String("user", "user-1", "user id placed in the token")
	role := flag.String("role", string(domain.RoleUser), "user or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.LoadConfig()
	log := logger.New(cfg.Environment, cfg.LogLevel)

	if *role != string(domain.RoleUser) && *role != string(domain.RoleAdmin) {
		log.Fatal().Str("role", *role).Msg("role must be user or admin")
	}

	// Issue never looks users up.
	token, err := auth.NewAuthenticator(cfg.JWTSecret, nil).Issue(*userID, domain.Role(*role), *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Fprintln(os.Stdout, token)
}
