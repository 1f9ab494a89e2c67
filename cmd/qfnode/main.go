package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"github.com/vocdoni/maci-payout/config"
	"github.com/vocdoni/maci-payout/log"
	"github.com/vocdoni/maci-payout/service"
)

func main() {
	cfg, err := config.Load(config.NewFlagSet(), os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel, cfg.LogOutput, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := newNode(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer n.close()
	host, port := n.api.HostPort()
	log.Infow("payout node ready", "pollID", cfg.Round.PollID, "custody", n.engine.Custody().String(),
		"api", fmt.Sprintf("%s:%d", host, port))

	if err := service.Run(ctx, n.services()...); err != nil {
		log.Fatal(err)
	}
}
