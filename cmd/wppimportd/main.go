package main

import (
	"flag"

	"github.com/matheus3301/wppimport/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.wppimport/config.toml)")
	listenFlag := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag, Listen: *listenFlag}),
	)

	app.Run()
}
