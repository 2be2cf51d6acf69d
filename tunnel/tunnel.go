// Package tunnel discovers the public endpoints of TCP tunnels that expose a
// local mail server, so SMTP and IMAP settings can be pointed at them.
package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	// DefaultFirstDebuggerPort is the debugger port of the first tunnel in TCP_TUNNELS.
	DefaultFirstDebuggerPort = 4300

	SMTPPort = 587
	IMAPPort = 993
)

var tcpURLRe = regexp.MustCompile(`^tcp://([^:]+):(\d+)$`)

// Endpoint is a public host and port reached through a tunnel.
type Endpoint struct {
	Host string `json:"host"`
	Port string `json:"port"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// Endpoints holds the tunnels found for each mail protocol. A nil field
// means no tunnel was discovered for it.
type Endpoints struct {
	SMTP *Endpoint `json:"smtp,omitempty"`
	IMAP *Endpoint `json:"imap,omitempty"`
}

// ParseTCPURL parses a tcp://host:port public URL.
func ParseTCPURL(raw string) (*Endpoint, bool) {
	m := tcpURLRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	return &Endpoint{Host: m[1], Port: m[2]}, true
}

func defaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
