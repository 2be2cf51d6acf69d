package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/metrics"
)

type urlsResponse struct {
	URLs []string `json:"urls"`
}

// ServiceResolver queries a tunnel service that runs one debugger endpoint
// per tunnel. The i-th entry of the tunnel list is served on
// FirstDebuggerPort+i and answers GET /urls with {"urls": ["tcp://host:port"]}.
type ServiceResolver struct {
	ServiceURL        string
	FirstDebuggerPort int
	HTTPClient        *http.Client
}

// Resolve looks up every "host:port" entry of tcpTunnels and maps local port
// 587 to SMTP and 993 to IMAP. Entries that are malformed, unreachable or
// for other ports are logged and skipped.
func (r *ServiceResolver) Resolve(ctx context.Context, tcpTunnels string) (Endpoints, error) {
	var result Endpoints

	entries := strings.Fields(tcpTunnels)
	if len(entries) == 0 {
		return result, errors.New("TCP_TUNNELS is not set or empty")
	}
	serviceURL := strings.TrimRight(strings.TrimSpace(r.ServiceURL), "/")
	if serviceURL == "" {
		return result, errors.New("TUNNEL_SERVICE_URL is not set")
	}

	client := defaultHTTPClient(r.HTTPClient)
	debuggerPort := r.FirstDebuggerPort
	if debuggerPort <= 0 {
		debuggerPort = DefaultFirstDebuggerPort
	}

	logger.Info("Fetching tunnel information", "service", serviceURL, "tunnels", tcpTunnels)

	for _, entry := range entries {
		endpoint := fmt.Sprintf("%s:%d/urls", serviceURL, debuggerPort)
		debuggerPort++

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || parts[0] == "" {
			logger.Warn("Invalid tunnel format, skipping", "tunnel", entry)
			continue
		}
		localPort, err := strconv.Atoi(parts[1])
		if err != nil {
			logger.Warn("Invalid tunnel format, skipping", "tunnel", entry)
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		logger.Debug("Querying tunnel endpoint", "endpoint", endpoint, "tunnel", entry)
		var body urlsResponse
		if err := getJSON(ctx, client, endpoint, &body); err != nil {
			metrics.TunnelLookups.WithLabelValues("service", "error").Inc()
			logger.Warn("Failed to fetch tunnel information", "endpoint", endpoint, "error", err)
			continue
		}
		if len(body.URLs) == 0 {
			metrics.TunnelLookups.WithLabelValues("service", "empty").Inc()
			logger.Warn("No URLs found in tunnel response", "tunnel", entry)
			continue
		}

		// One URL per tunnel.
		parsed, ok := ParseTCPURL(body.URLs[0])
		if !ok {
			metrics.TunnelLookups.WithLabelValues("service", "unparsable").Inc()
			logger.Warn("Failed to parse tunnel URL", "url", body.URLs[0])
			continue
		}

		switch localPort {
		case SMTPPort:
			result.SMTP = parsed
			logger.Info("Found SMTP tunnel", "tunnel", entry, "endpoint", parsed.Address())
		case IMAPPort:
			result.IMAP = parsed
			logger.Info("Found IMAP tunnel", "tunnel", entry, "endpoint", parsed.Address())
		default:
			logger.Warn("Unknown tunnel port, skipping", "port", localPort, "tunnel", entry)
			continue
		}
		metrics.TunnelLookups.WithLabelValues("service", "success").Inc()
	}

	return result, nil
}
