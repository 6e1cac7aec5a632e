// Package main provides a CLI tool for setting account roles.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/config"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	name := flag.String("name", "", "target account name (required)")
	roleName := flag.String("role", "", "role to assign: player or operator (required)")
	flag.Parse()

	if *name == "" || *roleName == "" {
		flag.Usage()
		os.Exit(1)
	}

	role, err := auth.ParseRole(*roleName)
	if err != nil {
		log.Fatalf("invalid role %q: must be player or operator", *roleName)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := auth.NewAccountRepository(pool.DB())

	acct, err := repo.GetByName(ctx, *name)
	if err != nil {
		log.Fatalf("looking up account %q: %v", *name, err)
	}

	if err := repo.SetRole(ctx, acct.ID, role); err != nil {
		log.Fatalf("setting role: %v", err)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stdout, "set role for %s (#%d): %s -> %s [%s]\n",
		acct.Name, acct.ID, acct.Role, role, elapsed)
}
