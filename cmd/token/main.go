package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/example/bank-event-sourcing/internal/auth"
	"github.com/example/bank-event-sourcing/internal/config"
)

// token prints a bearer token for the command routes, signed with JWT_SECRET.
func main() {
	userID := flag.String("user", "", "user id to put in the token")
	role := flag.String("role", "teller", "role claim")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET and -user are required")
		os.Exit(2)
	}

	token, expiresAt, err := auth.NewJWTService(cfg.JWTSecret, cfg.JWTTTL).GenerateToken(*userID, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
}
