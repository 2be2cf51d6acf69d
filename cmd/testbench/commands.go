package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ProcessMaker/testbench/actions"
	"github.com/ProcessMaker/testbench/config"
	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/site"
	"github.com/ProcessMaker/testbench/tunnel"
)

func handleUpdateServer(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("update-server", flag.ExitOnError)
	script := fs.String("script", "", "Action to run (e.g. configure-email); all actions when empty")
	siteFlag := fs.String("site", "", "Site name from the sites file (default: $SITE_NAME)")
	cf := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`Update the remote server environment using API calls

Usage:
  testbench update-server [options]

Options:
  --site string     Site name from the sites file (default: $SITE_NAME)
  --script string   Action to run; every action runs when omitted
  --verbose         Enable verbose logging
  --config string   Path to TOML configuration file (default: testbench.toml)

Actions:
%s
Examples:
  testbench update-server --site local
  testbench update-server --site local --script configure-email
`, actionList())
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg, cleanup, err := setup(fs, cf)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	s, err := loadSite(cfg, *siteFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := actions.Options{Site: s, Config: cfg, Verbose: *cf.verbose}

	if *script != "" {
		action, err := actions.Lookup(*script)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if err := actions.Run(ctx, action, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("%s completed successfully\n", action.Value)
		return 0
	}

	fmt.Println("Running all available server actions...")
	if err := actions.RunAll(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("All actions completed successfully!")
	return 0
}

func actionList() string {
	var b strings.Builder
	for _, a := range actions.Available() {
		fmt.Fprintf(&b, "  %-17s %s\n", a.Value, a.Name)
	}
	return b.String()
}

func handleReplyToMail(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reply-to-mail", flag.ExitOnError)
	siteFlag := fs.String("site", "", "Site name from the sites file (default: $SITE_NAME)")
	attempts := fs.Int("attempts", 0, "Runs to try until a reply is sent (overrides config)")
	attemptWait := fs.String("wait", "", "Wait between runs, e.g. 8s (overrides config)")
	initialWait := fs.String("initial-wait", "", "Wait before the first run (overrides config)")
	imapDebug := fs.Bool("imap-debug", false, "Log the IMAP protocol exchange")
	cf := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`Answer unread notification mails through their mailto: links

Usage:
  testbench reply-to-mail [options]

Options:
  --site string           Site name from the sites file (default: $SITE_NAME)
  --attempts int          Runs to try until a reply is sent (default from config: 1)
  --wait duration         Wait between runs (default from config: 5s)
  --initial-wait duration Wait before the first run
  --imap-debug            Log the IMAP protocol exchange, credentials masked
  --verbose               Enable verbose logging
  --config string         Path to TOML configuration file (default: testbench.toml)

Examples:
  testbench reply-to-mail --site local
  testbench reply-to-mail --site local --initial-wait 8s --attempts 3 --wait 8s
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg, cleanup, err := setup(fs, cf)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if isFlagSet(fs, "attempts") {
		cfg.Reply.Attempts = *attempts
	}
	if isFlagSet(fs, "wait") {
		cfg.Reply.AttemptWait = *attemptWait
	}
	if isFlagSet(fs, "initial-wait") {
		cfg.Reply.InitialWait = *initialWait
	}
	if isFlagSet(fs, "imap-debug") {
		cfg.Reply.IMAPDebug = *imapDebug
	}

	s, err := loadSite(cfg, *siteFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	replied, err := actions.ReplyToMail(ctx, actions.Options{Site: s, Config: cfg, Verbose: *cf.verbose})
	if err != nil {
		if errors.Is(err, consts.ErrNoReplies) {
			fmt.Println("Replies sent: 0")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Replies sent: %d\n", replied)
	return 0
}

func handleCISites(args []string) int {
	fs := flag.NewFlagSet("ci-sites", flag.ExitOnError)
	output := fs.String("output", "", "Sites file to write (default: paths.sites_file)")
	cf := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`Generate CI sites configuration from environment variables

Usage:
  testbench ci-sites [options]

Environment:
  INSTANCE       CI instance identifier (required)
  MULTITENANCY   "true" generates one site per tenant

Options:
  --output string   Sites file to write (default: sites.json)
  --config string   Path to TOML configuration file (default: testbench.toml)
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg, cleanup, err := setup(fs, cf)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	path := cfg.Paths.SitesFile
	if *output != "" {
		path = *output
	}

	instance := strings.TrimSpace(os.Getenv("INSTANCE"))
	multitenancy := os.Getenv("MULTITENANCY") == "true"

	fmt.Println("Generating CI sites configuration from environment variables")
	sites, err := site.GenerateCI(instance, multitenancy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := site.Save(path, sites); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Generated %d CI sites in %s\n", len(sites), path)
	fmt.Printf("   Instance: %s\n", instance)
	fmt.Printf("   Multitenancy: %t\n", multitenancy)
	for i, s := range sites {
		fmt.Printf("   %d. %s - %s\n", i+1, s.Name, s.URL)
	}
	return 0
}

func handleDebugTunnels(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("debug-tunnels", flag.ExitOnError)
	tunnelURL := fs.String("tunnel-url", "", "Tunnel service URL (default: $TUNNEL_SERVICE_URL)")
	cf := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`Output tunnel information from the tunnel service

Usage:
  testbench debug-tunnels [options]

Environment:
  TCP_TUNNELS          Whitespace separated host:port list (required)
  TUNNEL_SERVICE_URL   Tunnel service base URL

Options:
  --tunnel-url string   Tunnel service URL (overrides TUNNEL_SERVICE_URL)
  --verbose             Enable verbose logging
  --config string       Path to TOML configuration file (default: testbench.toml)
`)
	}

	if err := fs.Parse(args); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	cfg, cleanup, err := setup(fs, cf)
	defer cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if strings.TrimSpace(cfg.Tunnel.TCPTunnels) == "" {
		fmt.Fprintln(os.Stderr, "Error: TCP_TUNNELS environment variable is not set or empty")
		return 1
	}
	if *tunnelURL != "" {
		cfg.Tunnel.ServiceURL = *tunnelURL
	}

	endpoints, err := lookupTunnels(ctx, cfg.Tunnel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to fetch tunnel information: %v\n", err)
		return 1
	}

	printTunnels(endpoints)
	return 0
}

func lookupTunnels(ctx context.Context, cfg config.TunnelConfig) (tunnel.Endpoints, error) {
	timeout, err := cfg.GetRequestTimeout()
	if err != nil {
		return tunnel.Endpoints{}, err
	}
	resolver := &tunnel.ServiceResolver{
		ServiceURL:        cfg.ServiceURL,
		FirstDebuggerPort: cfg.GetFirstDebuggerPort(),
		HTTPClient:        &http.Client{Timeout: timeout},
	}
	logger.Debug("Looking up tunnels", "service", cfg.ServiceURL, "timeout", timeout.Round(time.Millisecond))
	return resolver.Resolve(ctx, cfg.TCPTunnels)
}

func printTunnels(endpoints tunnel.Endpoints) {
	rule := strings.Repeat("-", 50)

	fmt.Println("\nTunnel Information:")
	fmt.Println(rule)
	printEndpoint("SMTP", endpoints.SMTP)
	fmt.Println()
	printEndpoint("IMAP", endpoints.IMAP)
	fmt.Println(rule)

	data, err := json.MarshalIndent(endpoints, "", "  ")
	if err != nil {
		return
	}
	fmt.Println("\nJSON Output:")
	fmt.Println(string(data))
}

func printEndpoint(label string, ep *tunnel.Endpoint) {
	if ep == nil {
		fmt.Printf("%s Tunnel: Not found\n", label)
		return
	}
	fmt.Printf("%s Tunnel:\n", label)
	fmt.Printf("   Host: %s\n", ep.Host)
	fmt.Printf("   Port: %s\n", ep.Port)
	fmt.Printf("   Full URL: tcp://%s\n", ep.Address())
}
