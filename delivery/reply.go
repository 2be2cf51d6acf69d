package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/ProcessMaker/testbench/helpers"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/circuitbreaker"
	"github.com/ProcessMaker/testbench/pkg/metrics"
)

// SendError wraps an error with information about whether it's permanent or temporary.
// Permanent errors (5xx SMTP codes) will fail again on retry.
// Temporary errors (4xx SMTP codes, network errors) may succeed later.
type SendError struct {
	Err       error
	Permanent bool
}

func (e *SendError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary failure: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsPermanentError checks if an error is a permanent failure (5xx SMTP error).
// Network and connection errors are temporary.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Permanent
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}

	return false
}

// SMTPReplySender submits replies to an SMTP server, one connection per reply.
type SMTPReplySender struct {
	Config         SMTPConfig
	CircuitBreaker *circuitbreaker.CircuitBreaker // optional
}

// NewSMTPReplySender creates a sender; cb may be nil.
func NewSMTPReplySender(cfg SMTPConfig, cb *circuitbreaker.CircuitBreaker) *SMTPReplySender {
	return &SMTPReplySender{Config: cfg, CircuitBreaker: cb}
}

// Send composes the reply and submits it. Failures are returned as *SendError.
func (r *SMTPReplySender) Send(ctx context.Context, reply helpers.Mailto) error {
	if reply.To == "" {
		metrics.RepliesSent.WithLabelValues("permanent").Inc()
		return &SendError{Err: errors.New("reply has no recipient"), Permanent: true}
	}

	if r.CircuitBreaker == nil {
		return r.send(ctx, reply)
	}

	err := r.CircuitBreaker.Do(func() error {
		return r.send(ctx, reply)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		logger.Warn("SMTP: Circuit breaker is open, skipping reply", "host", r.Config.Address(), "to", reply.To)
		metrics.RepliesSent.WithLabelValues("circuit_breaker_open").Inc()
		return &SendError{Err: fmt.Errorf("SMTP circuit breaker is open: %w", err), Permanent: false}
	}
	return err
}

func (r *SMTPReplySender) send(ctx context.Context, reply helpers.Mailto) (err error) {
	start := time.Now()
	defer func() {
		metrics.ReplySendDuration.Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			metrics.RepliesSent.WithLabelValues("success").Inc()
		case IsPermanentError(err):
			metrics.RepliesSent.WithLabelValues("permanent").Inc()
		default:
			metrics.RepliesSent.WithLabelValues("temporary").Inc()
		}
	}()

	if err := ctx.Err(); err != nil {
		return &SendError{Err: err, Permanent: false}
	}

	cfg := r.Config
	msg, err := buildMessage(cfg, reply, time.Now())
	if err != nil {
		return &SendError{Err: err, Permanent: true}
	}

	addr := cfg.Address()
	c, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// Abort blocking I/O when the run is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
		return &SendError{Err: fmt.Errorf("SMTP authentication failed: %w", err), Permanent: IsPermanentError(err)}
	}

	if err := c.Mail(cfg.FromAddress, nil); err != nil {
		return &SendError{Err: fmt.Errorf("failed to set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	if err := c.Rcpt(reply.To, nil); err != nil {
		return &SendError{Err: fmt.Errorf("failed to set recipient: %w", err), Permanent: IsPermanentError(err)}
	}

	wc, err := c.Data()
	if err != nil {
		return &SendError{Err: fmt.Errorf("failed to start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return &SendError{Err: fmt.Errorf("failed to write message: %w", err), Permanent: false}
	}
	if err := wc.Close(); err != nil {
		return &SendError{Err: fmt.Errorf("failed to close data writer: %w", err), Permanent: IsPermanentError(err)}
	}

	if err := c.Quit(); err != nil {
		// The message was already accepted.
		logger.Warn("SMTP: Failed to send QUIT", "error", err)
	}

	logger.Info("Reply sent", "to", reply.To, "subject", reply.Subject, "server", addr)
	return nil
}

const (
	defaultDialTimeout = 30 * time.Second
	helloName          = "localhost"

	// Returned by smtp.NewClientStartTLS when EHLO does not list STARTTLS.
	errNoStartTLS = "smtp: server doesn't support STARTTLS"
)

// connect opens a session with the submission server, upgrading it with
// STARTTLS when the server offers it. Servers without STARTTLS get a plain
// session on a fresh connection.
func (r *SMTPReplySender) connect(ctx context.Context) (*smtp.Client, error) {
	cfg := r.Config

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.TLSVerify,
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, err := smtp.NewClientStartTLS(conn, tlsConfig)
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &SendError{Err: ctxErr, Permanent: false}
		}
		if err.Error() != errNoStartTLS {
			return nil, &SendError{Err: fmt.Errorf("STARTTLS failed: %w", err), Permanent: IsPermanentError(err)}
		}

		logger.Debug("SMTP: Server does not offer STARTTLS, continuing without TLS", "server", cfg.Address())
		conn, err = r.dial(ctx)
		if err != nil {
			return nil, err
		}
		c = smtp.NewClient(conn)
		r.applyTimeouts(c)
		return c, nil
	}

	r.applyTimeouts(c)
	// The TLS handshake runs on first use; do it now so certificate
	// errors are reported as STARTTLS failures.
	stop = context.AfterFunc(ctx, func() { _ = c.Close() })
	err = c.Hello(helloName)
	stop()
	if err != nil {
		_ = c.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &SendError{Err: ctxErr, Permanent: false}
		}
		return nil, &SendError{Err: fmt.Errorf("STARTTLS failed: %w", err), Permanent: IsPermanentError(err)}
	}
	return c, nil
}

// dial opens the TCP connection, bounded by ctx and the configured timeout.
func (r *SMTPReplySender) dial(ctx context.Context) (net.Conn, error) {
	timeout := r.Config.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	addr := r.Config.Address()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues("smtp", "failure").Inc()
		return nil, &SendError{Err: fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err), Permanent: false}
	}
	metrics.ConnectionsTotal.WithLabelValues("smtp", "success").Inc()
	return conn, nil
}

func (r *SMTPReplySender) applyTimeouts(c *smtp.Client) {
	if r.Config.Timeout > 0 {
		c.CommandTimeout = r.Config.Timeout
		c.SubmissionTimeout = r.Config.Timeout
	}
}
