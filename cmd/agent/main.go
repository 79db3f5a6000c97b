package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timelapse-box/internal/agent"
	"timelapse-box/internal/config"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	checkOnly := flag.Bool("check", false, "validate the device configuration and exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())

	if *checkOnly {
		os.Exit(check(cfg.Device))
	}

	log.Info().
		Str("version", versioninfo.Short()).
		Str("config_path", *configPath).
		Str("hostname", cfg.Device.Hostname).
		Msg("Starting timelapse box agent")

	a, err := agent.NewAgent(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent")
	}

	go a.Run()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down agent")
	a.Shutdown()
	log.Info().Msg("Agent shut down gracefully")
}

// check prints the redacted device configuration and its validation result.
func check(d config.DeviceConfiguration) int {
	out, _ := json.MarshalIndent(d.Redacted(), "", "  ")
	fmt.Println(string(out))

	if err := d.Validate(); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) && cfgErr.NetworkField() {
			fmt.Printf("invalid: %v (network services would stay off)\n", err)
		} else {
			fmt.Printf("invalid: %v\n", err)
		}
		return 1
	}
	fmt.Println("valid")
	return 0
}
