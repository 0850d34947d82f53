package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/parley-im/parley/internal/config"
	"github.com/parley-im/parley/internal/daemon"
	"github.com/parley-im/parley/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// First run: no config file yet, use the defaults.
		cfg = config.Default()
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}
