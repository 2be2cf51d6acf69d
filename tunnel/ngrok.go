package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/metrics"
)

type ngrokTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
}

type ngrokTunnelsResponse struct {
	Tunnels []ngrokTunnel `json:"tunnels"`
}

// NgrokResolver reads tunnels named "smtp" and "imap" from an ngrok agent API.
type NgrokResolver struct {
	HTTPClient *http.Client
}

// Resolve queries <containerURL>/api/tunnels. A failed request is an error;
// a missing or unparsable tunnel is only logged.
func (r *NgrokResolver) Resolve(ctx context.Context, containerURL string) (Endpoints, error) {
	var result Endpoints

	containerURL = strings.TrimRight(strings.TrimSpace(containerURL), "/")
	if containerURL == "" {
		return result, errors.New("ngrok container URL is empty")
	}

	logger.Info("Fetching tunnel information", "ngrok", containerURL)

	var body ngrokTunnelsResponse
	if err := getJSON(ctx, defaultHTTPClient(r.HTTPClient), containerURL+"/api/tunnels", &body); err != nil {
		metrics.TunnelLookups.WithLabelValues("ngrok", "error").Inc()
		return result, fmt.Errorf("failed to fetch ngrok tunnel information: %w", err)
	}
	metrics.TunnelLookups.WithLabelValues("ngrok", "success").Inc()

	result.SMTP = findNgrokTunnel(body.Tunnels, "smtp")
	result.IMAP = findNgrokTunnel(body.Tunnels, "imap")
	return result, nil
}

func findNgrokTunnel(tunnels []ngrokTunnel, name string) *Endpoint {
	for _, t := range tunnels {
		if t.Name != name || t.PublicURL == "" {
			continue
		}
		parsed, ok := ParseTCPURL(t.PublicURL)
		if !ok {
			logger.Warn("Failed to parse ngrok tunnel URL", "name", name, "url", t.PublicURL)
			return nil
		}
		logger.Info("Found ngrok tunnel", "name", name, "endpoint", parsed.Address())
		return parsed
	}
	logger.Warn("Tunnel not found in ngrok response", "name", name)
	return nil
}
