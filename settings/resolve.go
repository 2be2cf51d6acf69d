package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/tunnel"
)

// Resolver looks up tunnel endpoints for a tunnel spec, which is either a
// TCP_TUNNELS list or an ngrok container URL depending on the resolver.
type Resolver interface {
	Resolve(ctx context.Context, spec string) (tunnel.Endpoints, error)
}

// Resolve returns the settings to use for a run. Without useTunnel the
// settings are returned unchanged. Otherwise the tunnels described by spec
// replace the SMTP and IMAP host and port; s itself is not modified.
func Resolve(ctx context.Context, s Settings, useTunnel bool, spec string, resolver Resolver) (Settings, error) {
	if !useTunnel {
		return s, nil
	}
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("%w: TCP_TUNNELS is required when useTunnel is true", consts.ErrConfiguration)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: no tunnel resolver configured", consts.ErrConfiguration)
	}

	endpoints, err := resolver.Resolve(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to apply tunnel substitution: %w", err)
	}

	resolved := s.Clone()
	if err := ApplyTunnels(resolved, endpoints); err != nil {
		return nil, fmt.Errorf("failed to apply tunnel substitution: %w", err)
	}
	return resolved, nil
}

// ApplyTunnels overwrites the SMTP and IMAP host and port in s with the
// discovered endpoints. Protocols without an endpoint are left untouched.
func ApplyTunnels(s Settings, endpoints tunnel.Endpoints) error {
	if ep := endpoints.SMTP; ep != nil {
		if err := validateEndpoint("SMTP", ep); err != nil {
			return err
		}
		s[KeyMailHost] = ep.Host
		s[KeyMailPort] = ep.Port
		logger.Info("Using SMTP tunnel", "endpoint", ep.Address())
	}

	if ep := endpoints.IMAP; ep != nil {
		if err := validateEndpoint("IMAP", ep); err != nil {
			return err
		}
		s[KeyIMAPServer] = ep.Host
		s[KeyIMAPPort] = ep.Port
		logger.Info("Using IMAP tunnel", "endpoint", ep.Address())
	}
	return nil
}

func validateEndpoint(protocol string, ep *tunnel.Endpoint) error {
	if strings.TrimSpace(ep.Host) == "" {
		return fmt.Errorf("%w: %s tunnel host is empty", consts.ErrConfiguration, protocol)
	}
	if strings.TrimSpace(ep.Port) == "" {
		return fmt.Errorf("%w: %s tunnel port is empty", consts.ErrConfiguration, protocol)
	}
	return nil
}
