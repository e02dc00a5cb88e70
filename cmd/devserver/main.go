package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/MKhiriev/go-mark-sync/internal/devserver"
	"github.com/MKhiriev/go-mark-sync/internal/logger"
	"github.com/MKhiriev/go-mark-sync/internal/server"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	var address string
	var signKey string
	var tokenTTL time.Duration

	flag.StringVar(&address, "a", ":8080", "Listen address")
	flag.StringVar(&signKey, "k", "", "Token sign key (env DEVSERVER_SIGN_KEY)")
	flag.DurationVar(&tokenTTL, "token-ttl", time.Hour, "Issued token lifetime")
	flag.Parse()

	if signKey == "" {
		signKey = os.Getenv("DEVSERVER_SIGN_KEY")
	}

	log := logger.NewLogger("devserver")
	if signKey == "" {
		log.Fatal().Msg("sign key is required (-k or DEVSERVER_SIGN_KEY)")
	}

	handler := devserver.NewHandler(devserver.NewCollection(), devserver.Config{
		SignKey:  signKey,
		TokenTTL: tokenTTL,
	}, log)

	srv, err := server.NewServer(handler.Init(), address, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating server")
	}

	log.Info().Str("address", address).Msg("devserver listening")
	srv.RunServer()
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
