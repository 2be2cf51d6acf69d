// Package replier drives the reply-by-email flow: it reads every unread
// message of a mailbox in order, answers the ones that carry a mailto:
// action link and marks handled messages as read.
package replier

import (
	"context"
	"fmt"
	"time"

	"github.com/ProcessMaker/testbench/delivery"
	"github.com/ProcessMaker/testbench/helpers"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/mailbox"
	"github.com/ProcessMaker/testbench/pkg/circuitbreaker"
	"github.com/ProcessMaker/testbench/pkg/metrics"
	"github.com/ProcessMaker/testbench/settings"
)

const bodyPreviewRunes = 200

// Session is the part of an IMAP session the engine uses.
type Session interface {
	SearchUnseen(ctx context.Context) ([]uint32, error)
	Fetch(ctx context.Context, seqNum uint32) (*mailbox.Message, error)
	MarkSeen(ctx context.Context, seqNum uint32) error
	Close() error
}

// Sender submits one reply.
type Sender interface {
	Send(ctx context.Context, reply helpers.Mailto) error
}

// OpenFunc opens a session for cfg.
type OpenFunc func(ctx context.Context, cfg mailbox.Config) (Session, error)

// SenderFunc builds a sender for cfg.
type SenderFunc func(cfg delivery.SMTPConfig) Sender

// Outcome summarises one run.
type Outcome struct {
	Processed int
	Replied   int
	Skipped   int
	Failed    int
}

type messageResult int

const (
	resultReplied messageResult = iota
	resultSkipped
	resultSendFailed
	resultFetchFailed
)

func (r messageResult) String() string {
	switch r {
	case resultReplied:
		return "replied"
	case resultSkipped:
		return "skipped"
	case resultSendFailed:
		return "send_failed"
	default:
		return "fetch_failed"
	}
}

func (o *Outcome) record(r messageResult) {
	o.Processed++
	switch r {
	case resultReplied:
		o.Replied++
	case resultSkipped:
		o.Skipped++
	default:
		o.Failed++
	}
}

// Options configures an Engine.
type Options struct {
	// DefaultUser logs in to the mailbox when the settings carry no
	// abe_imap_username.
	DefaultUser string
	// MessageDelay separates consecutive messages; zero disables it.
	MessageDelay time.Duration
	DialTimeout  time.Duration
	SMTPTimeout  time.Duration
	IMAPDebug    bool
	// CircuitBreaker guards SMTP submissions across runs; optional.
	CircuitBreaker *circuitbreaker.CircuitBreaker

	Open      OpenFunc
	NewSender SenderFunc
}

// Engine runs the reply flow. It holds no per-run state, so one Engine can
// serve consecutive runs.
type Engine struct {
	opts Options
}

// New creates an Engine, filling in the IMAP and SMTP implementations
// when opts leaves them nil.
func New(opts Options) *Engine {
	if opts.MessageDelay < 0 {
		opts.MessageDelay = 0
	}
	if opts.Open == nil {
		opts.Open = func(ctx context.Context, cfg mailbox.Config) (Session, error) {
			s, err := mailbox.Open(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if opts.NewSender == nil {
		cb := opts.CircuitBreaker
		opts.NewSender = func(cfg delivery.SMTPConfig) Sender {
			return delivery.NewSMTPReplySender(cfg, cb)
		}
	}
	return &Engine{opts: opts}
}

// Run processes every unread message once and returns the outcome. Both
// mail configurations are validated before connecting. Configuration,
// connection and search failures end the run with an error; problems with
// a single message are logged and counted. When ctx is cancelled between
// messages the partial outcome is returned with the context error.
func (e *Engine) Run(ctx context.Context, s settings.Settings) (outcome Outcome, err error) {
	defer func() {
		switch {
		case err != nil:
			metrics.RunsTotal.WithLabelValues("error").Inc()
		case outcome.Replied > 0:
			metrics.RunsTotal.WithLabelValues("replied").Inc()
		default:
			metrics.RunsTotal.WithLabelValues("no_reply").Inc()
		}
	}()

	imapCfg, err := mailbox.ConfigFromSettings(s, e.opts.DefaultUser)
	if err != nil {
		return outcome, err
	}
	imapCfg.DialTimeout = e.opts.DialTimeout
	imapCfg.Debug = e.opts.IMAPDebug

	smtpCfg, err := delivery.SMTPConfigFromSettings(s)
	if err != nil {
		return outcome, err
	}
	smtpCfg.Timeout = e.opts.SMTPTimeout
	sender := e.opts.NewSender(smtpCfg)

	logger.Info("Checking mailbox for unread messages",
		"server", imapCfg.Address(), "user", imapCfg.User, "mailbox", imapCfg.MailboxName())

	session, err := e.opts.Open(ctx, imapCfg)
	if err != nil {
		return outcome, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("Error closing IMAP session", "error", cerr)
		}
	}()

	seqNums, err := session.SearchUnseen(ctx)
	if err != nil {
		return outcome, err
	}
	if len(seqNums) == 0 {
		logger.Info("No unread messages found", "mailbox", imapCfg.MailboxName())
		return outcome, nil
	}
	logger.Info("Found unread messages", "count", len(seqNums))

	for i, seqNum := range seqNums {
		if i > 0 {
			if err := sleep(ctx, e.opts.MessageDelay); err != nil {
				return outcome, fmt.Errorf("reply run interrupted after %d of %d messages: %w", outcome.Processed, len(seqNums), err)
			}
		} else if err := ctx.Err(); err != nil {
			return outcome, fmt.Errorf("reply run interrupted: %w", err)
		}

		result := e.processMessage(ctx, session, sender, seqNum)
		outcome.record(result)
		metrics.MessagesProcessed.WithLabelValues(result.String()).Inc()
	}

	logger.Info("Finished processing messages",
		"processed", outcome.Processed, "replied", outcome.Replied,
		"skipped", outcome.Skipped, "failed", outcome.Failed)
	return outcome, nil
}

// processMessage settles exactly one message and reports how.
func (e *Engine) processMessage(ctx context.Context, session Session, sender Sender, seqNum uint32) messageResult {
	msg, err := session.Fetch(ctx, seqNum)
	if err != nil {
		logger.Error("Failed to fetch message", "seq", seqNum, "error", err)
		return resultFetchFailed
	}

	if summary, err := helpers.ParseHeaderSummary(msg.Header); err != nil {
		logger.Warn("Could not parse message header", "seq", seqNum, "error", err)
	} else {
		logger.Info("Processing message",
			"seq", seqNum, "uid", msg.UID, "size", msg.Size,
			"from", summary.From, "to", summary.To, "subject", summary.Subject,
			"date", summary.Date, "message_id", summary.MessageID)
	}

	body := string(msg.Text)
	logger.Debug("Message body", "seq", seqNum, "preview", helpers.BodyPreview(body, bodyPreviewRunes))

	reply, ok := helpers.ExtractMailto(body)
	if !ok {
		logger.Info("No mailto link found, marking message as read", "seq", seqNum)
		e.markSeen(ctx, session, seqNum)
		return resultSkipped
	}

	logger.Info("Found mailto link", "seq", seqNum, "to", reply.To, "subject", reply.Subject)
	if err := sender.Send(ctx, reply); err != nil {
		logger.Error("Failed to send reply", "seq", seqNum, "to", reply.To,
			"permanent", delivery.IsPermanentError(err), "error", err)
		return resultSendFailed
	}

	e.markSeen(ctx, session, seqNum)
	return resultReplied
}

func (e *Engine) markSeen(ctx context.Context, session Session, seqNum uint32) {
	if err := session.MarkSeen(ctx, seqNum); err != nil {
		logger.Warn("Could not mark message as read", "seq", seqNum, "error", err)
		return
	}
	logger.Debug("Marked message as read", "seq", seqNum)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
