// Package actions holds the server actions the update-server command runs
// against a site, and the registry used to find them by name.
package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ProcessMaker/testbench/config"
	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/settings"
	"github.com/ProcessMaker/testbench/site"
	"github.com/ProcessMaker/testbench/tunnel"
)

// Options is passed to every action.
type Options struct {
	Site    site.Site
	Config  config.Config
	Verbose bool

	// Resolver replaces the tunnel resolver selected by Config.Tunnel.
	Resolver settings.Resolver
	// Engine replaces the reply engine built from Config.
	Engine ReplyEngine
}

// Func runs one action.
type Func func(ctx context.Context, opts Options) error

// Action is a registered action.
type Action struct {
	// Name is the display name, e.g. "Configure Email".
	Name string
	// Value is the name used on the command line, e.g. "configure-email".
	Value string
	Run   Func
}

var registry = map[string]Func{
	"configure-email": runConfigureEmail,
	"reply-to-mail":   runReplyToMail,
}

// Available returns every action ordered by value.
func Available() []Action {
	values := make([]string, 0, len(registry))
	for v := range registry {
		values = append(values, v)
	}
	sort.Strings(values)

	out := make([]Action, 0, len(values))
	for _, v := range values {
		out = append(out, Action{Name: DisplayName(v), Value: v, Run: registry[v]})
	}
	return out
}

// Lookup finds an action by value. A trailing ".ts" or ".go" is ignored so
// script names from older invocations keep working.
func Lookup(name string) (Action, error) {
	value := strings.TrimSpace(name)
	for _, suffix := range []string{".ts", ".go"} {
		value = strings.TrimSuffix(value, suffix)
	}
	fn, ok := registry[value]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", consts.ErrActionNotFound, name)
	}
	return Action{Name: DisplayName(value), Value: value, Run: fn}, nil
}

// DisplayName turns "configure-email" into "Configure Email".
func DisplayName(value string) string {
	caser := cases.Title(language.Und)
	words := strings.Split(value, "-")
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// RunAll runs every available action in order and stops at the first
// failure.
func RunAll(ctx context.Context, opts Options) error {
	all := Available()
	if len(all) == 0 {
		logger.Info("No actions available")
		return nil
	}
	for _, a := range all {
		if err := Run(ctx, a, opts); err != nil {
			return err
		}
	}
	logger.Info("All actions completed successfully", "site", opts.Site.Name)
	return nil
}

// Run runs a single action with start and completion logging.
func Run(ctx context.Context, a Action, opts Options) error {
	logger.Info("Running action", "action", a.Name, "site", opts.Site.Name)
	start := time.Now()
	if err := a.Run(ctx, opts); err != nil {
		logger.Error("Action failed", "action", a.Name, "error", err)
		return fmt.Errorf("failed to execute %s: %w", a.Value, err)
	}
	logger.Info("Action completed successfully", "action", a.Name, "duration", time.Since(start))
	return nil
}

// NewResolver returns the tunnel resolver selected by cfg and the tunnel
// spec it takes for s.
func NewResolver(cfg config.TunnelConfig, s site.Site) (settings.Resolver, string, error) {
	timeout, err := cfg.GetRequestTimeout()
	if err != nil {
		return nil, "", err
	}
	client := &http.Client{Timeout: timeout}

	if cfg.UsesNgrok() {
		return &tunnel.NgrokResolver{HTTPClient: client}, s.NgrokContainer, nil
	}
	return &tunnel.ServiceResolver{
		ServiceURL:        cfg.ServiceURL,
		FirstDebuggerPort: cfg.GetFirstDebuggerPort(),
		HTTPClient:        client,
	}, cfg.TCPTunnels, nil
}

// loadSettings reads the site's mail settings and applies tunnel
// substitution when the site uses tunnels.
func loadSettings(ctx context.Context, opts Options) (settings.Settings, error) {
	s, err := settings.Load(opts.Config.Paths.SettingsDir, opts.Site.MailConfig)
	if err != nil {
		return nil, err
	}
	if !opts.Site.UseTunnel {
		return s, nil
	}

	resolver, spec, err := NewResolver(opts.Config.Tunnel, opts.Site)
	if err != nil {
		return nil, err
	}
	if opts.Resolver != nil {
		resolver = opts.Resolver
	}
	return settings.Resolve(ctx, s, true, spec, resolver)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, consts.ErrConfiguration) || ctx.Err() != nil
}
