package main

import (
	"flag"
	"os"
	"strings"

	"github.com/danmuck/wsctl/internal/config"
	"github.com/danmuck/wsctl/internal/logging"
	"github.com/rs/zerolog/log"
)

var defaultPaths = map[string]string{
	"wsctl":    "cmd/wsctl/config.toml",
	"nukleusd": "cmd/nukleusd/config.toml",
}

func main() {
	kind := flag.String("kind", "wsctl", "config kind: wsctl|nukleusd")
	output := flag.String("output", "", "output path for the config template")
	validate := flag.Bool("validate", false, "load and validate an existing config file instead of writing one")
	input := flag.String("input", "", "config path for -validate (defaults to the per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite an existing config file")
	flag.Parse()
	logging.ConfigureRuntime()

	k := strings.ToLower(strings.TrimSpace(*kind))
	path, ok := defaultPaths[k]
	if !ok {
		log.Error().Str("kind", *kind).Msg("configgen unknown kind")
		os.Exit(2)
	}

	if *validate {
		if *input != "" {
			path = *input
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("configgen validate failed")
			os.Exit(1)
		}
		log.Info().Str("kind", k).Str("path", path).Str("nukleus", cfg.Nukleus).Str("transport", cfg.Transport).Msg("configgen validated")
		return
	}

	if *output != "" {
		path = *output
	}
	if err := config.WriteTemplate(path, k, *force); err != nil {
		log.Error().Err(err).Str("path", path).Msg("configgen write failed")
		os.Exit(1)
	}
	log.Info().Str("kind", k).Str("path", path).Msg("configgen wrote template")
}
