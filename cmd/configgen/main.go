package main

import (
	"flag"
	"path/filepath"
	"strings"

	"github.com/danmuck/elanbridge/internal/config"
	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	format := flag.String("format", "toml", "config format: toml|yaml")
	output := flag.String("output", "", "output path for config template (defaults to elanbridge.<format>)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "elanbridge.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime("")

	if *validate {
		cfg, warnings, err := config.Load(*input)
		if err != nil {
			log.Fatal().Err(err).Str("path", *input).Msg("config invalid")
		}
		for _, w := range warnings {
			log.Warn().Str("path", *input).Msg(w)
		}
		log.Info().Str("path", *input).Str("hub", cfg.Hub.URL).Str("bus", cfg.Bus.URL).Msg("config valid")
		return
	}

	target := *output
	if target == "" {
		target = "elanbridge." + strings.ToLower(*format)
	}
	if ext := strings.TrimPrefix(filepath.Ext(target), "."); ext != "" && !strings.EqualFold(ext, *format) &&
		!(strings.EqualFold(ext, "yml") && strings.EqualFold(*format, "yaml")) {
		log.Warn().Str("path", target).Str("format", *format).Msg("file extension does not match format; load will pick by extension")
	}
	if err := config.WriteTemplate(target, *format, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("path", target).Str("format", *format).Msg("wrote config template")
}
