// Package main provides an interactive shell for the game server's
// binary remote console.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cory-johannsen/gamekeeper/internal/config"
	"github.com/cory-johannsen/gamekeeper/internal/observability"
	"github.com/cory-johannsen/gamekeeper/internal/rcon"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	host := flag.String("host", "", "console host (overrides config)")
	port := flag.Int("port", 0, "console port (overrides config)")
	password := flag.String("password", "", "console password (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	consoleCfg := cfg.Console
	if *host != "" {
		consoleCfg.Host = *host
	}
	if *port != 0 {
		consoleCfg.Port = *port
	}
	if *password != "" {
		consoleCfg.Password = *password
	}

	logger, err := observability.NewShellLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	client := rcon.NewClient(consoleCfg, logger, nil)
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connecting to %s: %v", consoleCfg.Addr(), err)
	}
	fmt.Printf("connected to %s; type commands, 'quit' to exit\n", consoleCfg.Addr())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		cmd := strings.TrimSpace(scanner.Text())
		if cmd == "" {
			continue
		}
		if cmd == "quit" || cmd == "exit" {
			break
		}
		out, err := client.ExecuteCommand(ctx, cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(out)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("reading input: %v", err)
	}
}
