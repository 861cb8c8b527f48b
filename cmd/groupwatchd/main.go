package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mvtorres/groupwatch/internal/daemon"
	"github.com/mvtorres/groupwatch/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ListenAddr:  *listenFlag,
		}),
	)

	app.Run()
}
