package main

import (
	"os"

	"attempt-engine/internal/cli"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("attempt-engine failed")
		os.Exit(1)
	}
}
