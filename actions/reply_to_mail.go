package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ProcessMaker/testbench/config"
	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/circuitbreaker"
	"github.com/ProcessMaker/testbench/pkg/retry"
	"github.com/ProcessMaker/testbench/replier"
	"github.com/ProcessMaker/testbench/settings"
)

// ReplyEngine runs one pass over the mailbox.
type ReplyEngine interface {
	Run(ctx context.Context, s settings.Settings) (replier.Outcome, error)
}

// NewReplyEngine builds the reply engine described by cfg. When
// delivery.circuit_breaker_threshold is set, one SMTP circuit breaker is
// shared by every run of the engine.
func NewReplyEngine(cfg config.Config) (*replier.Engine, error) {
	delay, err := cfg.Reply.GetMessageDelay()
	if err != nil {
		return nil, err
	}
	dialTimeout, err := cfg.Reply.GetDialTimeout()
	if err != nil {
		return nil, err
	}
	smtpTimeout, err := cfg.Delivery.GetTimeout()
	if err != nil {
		return nil, err
	}
	breaker, err := newSMTPBreaker(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	return replier.New(replier.Options{
		DefaultUser:    cfg.Reply.IMAPUser,
		MessageDelay:   delay,
		DialTimeout:    dialTimeout,
		SMTPTimeout:    smtpTimeout,
		IMAPDebug:      cfg.Reply.IMAPDebug,
		CircuitBreaker: breaker,
	}), nil
}

// newSMTPBreaker returns nil when the threshold is zero.
func newSMTPBreaker(d config.DeliveryConfig) (*circuitbreaker.CircuitBreaker, error) {
	threshold := d.GetCircuitBreakerThreshold()
	if threshold == 0 {
		return nil, nil
	}
	timeout, err := d.GetCircuitBreakerTimeout()
	if err != nil {
		return nil, err
	}
	return circuitbreaker.NewCircuitBreaker(circuitbreaker.ConsecutiveFailureSettings(
		"smtp-reply", threshold, timeout, d.GetCircuitBreakerMaxRequests(),
	)), nil
}

// ReplyToMail answers the unread notifications of the site's mailbox and
// returns how many replies were sent. With reply.attempts above one the
// mailbox is checked again, reply.attempt_wait apart, until a reply goes
// out. Configuration errors end the retries at once. When no attempt sent
// a reply the error wraps consts.ErrNoReplies.
func ReplyToMail(ctx context.Context, opts Options) (int, error) {
	attempts := opts.Config.Reply.GetAttempts()
	attemptWait, err := opts.Config.Reply.GetAttemptWait()
	if err != nil {
		return 0, err
	}
	initialWait, err := opts.Config.Reply.GetInitialWait()
	if err != nil {
		return 0, err
	}

	s, err := loadSettings(ctx, opts)
	if err != nil {
		return 0, err
	}

	engine := opts.Engine
	if engine == nil {
		e, err := NewReplyEngine(opts.Config)
		if err != nil {
			return 0, err
		}
		engine = e
	}

	if initialWait > 0 {
		logger.Info("Waiting before checking the mailbox", "wait", initialWait)
		if err := wait(ctx, initialWait); err != nil {
			return 0, err
		}
	}

	replied := 0
	attempt := 0
	err = retry.WithRetryAdvanced(ctx, func() error {
		attempt++
		logger.Info("Checking mailbox for replies", "attempt", attempt, "max_attempts", attempts)

		outcome, err := engine.Run(ctx, s)
		if err != nil {
			if isFatal(ctx, err) {
				return retry.Stop(err)
			}
			return err
		}
		if outcome.Replied == 0 {
			return consts.ErrNoReplies
		}
		replied = outcome.Replied
		return nil
	}, retry.FixedConfig(attemptWait, attempts))

	if err != nil {
		if errors.Is(err, consts.ErrNoReplies) {
			return 0, fmt.Errorf("no reply sent after %d attempts: %w", attempt, consts.ErrNoReplies)
		}
		return 0, err
	}

	logger.Info("Replies sent", "count", replied, "attempts", attempt)
	return replied, nil
}

// runReplyToMail is the registry form. A mailbox with nothing to answer is
// not a failure of the whole update.
func runReplyToMail(ctx context.Context, opts Options) error {
	_, err := ReplyToMail(ctx, opts)
	if errors.Is(err, consts.ErrNoReplies) {
		logger.Warn("No replies were sent", "site", opts.Site.Name)
		return nil
	}
	return err
}
