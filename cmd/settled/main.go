package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" help:"Run the settlement engine and ops server"`
	Recover RecoverCmd       `cmd:"" help:"Run the startup recovery sweeps once and exit"`
	Status  StatusCmd        `cmd:"" help:"Query a running engine for its health summary"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("settled"),
		kong.Description("Escrow settlement engine for staked matches"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
