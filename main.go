package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/gaia-review/gaia/cmd"
	"github.com/gaia-review/gaia/internal/buildinfo"
	"github.com/gaia-review/gaia/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=... -X main.commit=..."
var (
	version   string
	buildDate string
	commit    string
)

func main() {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}

	settings := &conf.Settings{}
	build := buildinfo.NewContext(version, buildDate, commit)

	rootCmd := cmd.RootCommand(settings, build)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
