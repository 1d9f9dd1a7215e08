package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/firmament-sync/firmament/config"
	"github.com/firmament-sync/firmament/server"
)

type serverCmd struct {
	root string
}

func (*serverCmd) Name() string     { return "server" }
func (*serverCmd) Synopsis() string { return "Run every sync operator against a checkout until stopped." }
func (*serverCmd) Usage() string {
	return `server [-root PATH]:
  Run every operator (scanner, hasher, version creation, upload, sync,
  materializer, download-once cleanup) against the checkout rooted at or
  above PATH until SIGINT or SIGTERM.
`
}

func (p *serverCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.root, "root", ".", "Directory inside the checkout to run against")
}

func (p *serverCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.Load(p.root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load checkout: %v\n", err)
		return subcommands.ExitFailure
	}
	defer cfg.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := server.New(cfg)
	sup.Run(ctx)
	return subcommands.ExitSuccess
}
