// Command screen-check asks the screen detector once and reports the
// result. It exits 1 when more than one screen is connected and 2 when the
// detector cannot be reached.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/screens"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to load config")
		}
		cfg = loaded
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Screens.Timeout)
	defer cancel()

	resp, err := screens.NewClient(cfg.Screens).Count(ctx)
	if err != nil {
		log.Error().Err(err).Str("url", cfg.Screens.URL).Msg("Could not reach the Screen Detector API")
		os.Exit(2)
	}

	fmt.Printf("screens: %d\n", resp.ScreenCount)
	if resp.HasWarning() {
		fmt.Printf("warning: %s\n", *resp.Warning)
		os.Exit(1)
	}
}
