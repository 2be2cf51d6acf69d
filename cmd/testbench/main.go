package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/subosito/gotenv"

	"github.com/ProcessMaker/testbench/config"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/metrics"
	"github.com/ProcessMaker/testbench/site"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Variables already set in the environment win over .env.
	if err := gotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	command := os.Args[1]
	var code int
	switch command {
	case "update-server":
		code = handleUpdateServer(ctx, os.Args[2:])
	case "reply-to-mail":
		code = handleReplyToMail(ctx, os.Args[2:])
	case "ci-sites":
		code = handleCISites(os.Args[2:])
	case "debug-tunnels":
		code = handleDebugTunnels(ctx, os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		code = 1
	}
	stop()
	os.Exit(code)
}

func printUsage() {
	fmt.Printf(`TestBench

A CLI tool for running API calls and mail flows against remote servers.

Usage:
  testbench <command> [options]

Commands:
  update-server   Update the remote server environment using API calls
  reply-to-mail   Answer unread notification mails through their mailto: links
  ci-sites        Generate CI sites configuration from environment variables
  debug-tunnels   Output tunnel information from the tunnel service
  help            Show this help message

Examples:
  testbench update-server --site local
  testbench update-server --site local --script configure-email
  testbench reply-to-mail --site local --attempts 3 --wait 8s
  INSTANCE=1234 MULTITENANCY=true testbench ci-sites
  TCP_TUNNELS="mail:587 mail:993" testbench debug-tunnels

Use 'testbench <command> --help' for more information about a command.
`)
}

// commonFlags are accepted by every command that touches a site.
type commonFlags struct {
	configPath *string
	verbose    *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", config.DefaultConfigFile, "Path to TOML configuration file"),
		verbose:    fs.Bool("verbose", false, "Enable verbose logging"),
	}
}

// setup loads the configuration and initializes logging. The returned
// function exports metrics and closes the log file; call it before exiting.
func setup(fs *flag.FlagSet, cf commonFlags) (config.Config, func(), error) {
	cfg, err := config.Load(*cf.configPath, isFlagSet(fs, "config"))
	if err != nil {
		return cfg, func() {}, err
	}
	if *cf.verbose {
		cfg.Logging.Level = "debug"
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return cfg, func() {}, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cleanup := func() {
		if path := cfg.Metrics.TextfilePath; path != "" {
			if err := metrics.WriteTextfile(path); err != nil {
				logger.Warn("Failed to write metrics textfile", "path", path, "error", err)
			}
		}
		if logFile != nil {
			logFile.Close()
		}
	}
	return cfg, cleanup, nil
}

// loadSite finds the named site in the configured sites file, falling back
// to the SITE_NAME environment variable.
func loadSite(cfg config.Config, name string) (site.Site, error) {
	name = siteName(name)
	if name == "" {
		return site.Site{}, fmt.Errorf("--site or the SITE_NAME environment variable is required")
	}
	sites, err := site.Load(cfg.Paths.SitesFile)
	if err != nil {
		return site.Site{}, err
	}
	return site.Find(sites, name)
}

func siteName(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("SITE_NAME"))
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(fs *flag.FlagSet, name string) bool {
	isSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
