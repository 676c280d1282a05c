package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osistack/osistack/internal/config"
	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/node"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: osistack <server|client> [--host HOST] [--port PORT] [--debug] [--config FILE]\n")
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	mode := os.Args[1]
	if mode != "server" && mode != "client" {
		usage()
		os.Exit(2)
	}
	isServer := mode == "server"

	fs := flag.NewFlagSet("osistack", flag.ExitOnError)
	host := fs.String("host", "", "host to bind to or connect to")
	port := fs.Int("port", 0, "port to use")
	debug := fs.Bool("debug", false, "enable debug logging")
	configPath := fs.String("config", "", "path to TOML config file")
	fs.Usage = usage
	_ = fs.Parse(os.Args[2:])

	logging.ConfigureRuntime("osistack-" + mode)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.Default(isServer)
	if *configPath != "" {
		loaded, err := config.Load(*configPath, isServer)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
		log.Info().Str("path", *configPath).Msg("loaded config")
	}
	if *host != "" {
		cfg.Node.Host = *host
	}
	if *port != 0 {
		cfg.Node.Port = *port
	}
	cfg.Node.Debug = cfg.Node.Debug || *debug

	var err error
	if isServer {
		err = node.RunServer(cfg)
	} else {
		err = node.RunClient(cfg)
	}
	if err != nil {
		log.Fatal().Err(err).Msg(mode + " stopped")
	}
}
