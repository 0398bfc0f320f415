package main

import (
	"flag"

	"github.com/pals-labs/gopals/config"
	"github.com/pals-labs/gopals/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "path to config file")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
