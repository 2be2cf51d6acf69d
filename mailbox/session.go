// Package mailbox is a minimal IMAP client for polling a mailbox: log in,
// find unread messages, fetch their headers and text, and flag them \Seen.
package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/helpers"
	"github.com/ProcessMaker/testbench/logger"
	"github.com/ProcessMaker/testbench/pkg/metrics"
)

// Message is one fetched message. Header holds the raw
// HEADER.FIELDS block and Text the raw body text, each read from its own
// section of the FETCH response.
type Message struct {
	SeqNum uint32
	UID    uint32
	Size   int64
	Header []byte
	Text   []byte
}

// Session is an open, logged-in IMAP connection with a mailbox selected.
// A Session is used by one goroutine at a time.
type Session struct {
	cfg      Config
	client   *imapclient.Client
	openedAt time.Time
	closed   bool
}

// Open connects over implicit TLS, logs in and selects the configured
// mailbox read-write. Failures wrap consts.ErrConnection.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := cfg.Address()
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.DialTimeout},
		Config: &tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !cfg.TLSVerify,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues("imap", "failure").Inc()
		return nil, fmt.Errorf("%w: IMAP connection error: %w", consts.ErrConnection, err)
	}
	metrics.ConnectionsTotal.WithLabelValues("imap", "success").Inc()

	opts := &imapclient.Options{}
	if cfg.Debug {
		opts.DebugWriter = &debugWriter{}
	}

	s := &Session{cfg: cfg, client: imapclient.New(conn, opts), openedAt: time.Now()}
	logger.Info("Connected to IMAP server", "server", addr, "user", cfg.User)

	err = s.run(ctx, "LOGIN", func() error {
		return s.client.Login(cfg.User, cfg.Password).Wait()
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: IMAP connection error: %w", consts.ErrConnection, err)
	}

	mailbox := cfg.MailboxName()
	var numMessages uint32
	err = s.run(ctx, "SELECT", func() error {
		data, err := s.client.Select(mailbox, nil).Wait()
		if err != nil {
			return err
		}
		numMessages = data.NumMessages
		return nil
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: failed to open mailbox %s: %w", consts.ErrConnection, mailbox, err)
	}

	logger.Info("Opened mailbox", "mailbox", mailbox, "messages", numMessages)
	return s, nil
}

// Mailbox returns the selected mailbox name.
func (s *Session) Mailbox() string {
	return s.cfg.MailboxName()
}

// SearchUnseen returns the sequence numbers of messages without \Seen in
// ascending order.
func (s *Session) SearchUnseen(ctx context.Context) ([]uint32, error) {
	var seqNums []uint32
	err := s.run(ctx, "SEARCH", func() error {
		data, err := s.client.Search(&imap.SearchCriteria{
			NotFlag: []imap.Flag{imap.FlagSeen},
		}, nil).Wait()
		if err != nil {
			return err
		}
		seqNums = data.AllSeqNums()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search for unseen messages failed: %w", consts.ErrConnection, err)
	}
	sort.Slice(seqNums, func(i, j int) bool { return seqNums[i] < seqNums[j] })
	return seqNums, nil
}

// Fetch reads the summary header fields and the body text of one message.
// Both sections use BODY.PEEK so fetching does not set \Seen.
func (s *Session) Fetch(ctx context.Context, seqNum uint32) (*Message, error) {
	msg := &Message{SeqNum: seqNum}

	err := s.run(ctx, "FETCH", func() error {
		cmd := s.client.Fetch(imap.SeqSetNum(seqNum), &imap.FetchOptions{
			UID:        true,
			RFC822Size: true,
			BodySection: []*imap.FetchItemBodySection{
				{Specifier: imap.PartSpecifierHeader, HeaderFields: consts.ReplyHeaderFields, Peek: true},
				{Specifier: imap.PartSpecifierText, Peek: true},
			},
		})

		found := false
		for {
			data := cmd.Next()
			if data == nil {
				break
			}
			if data.SeqNum != seqNum {
				// Unilateral FETCH for another message; drain it.
				for data.Next() != nil {
				}
				continue
			}
			found = true
			if err := readFetchItems(data, msg); err != nil {
				_ = cmd.Close()
				return err
			}
		}
		if err := cmd.Close(); err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("message %d not returned by server", seqNum)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch of message %d failed: %w", seqNum, err)
	}
	return msg, nil
}

func readFetchItems(data *imapclient.FetchMessageData, msg *Message) error {
	for {
		item := data.Next()
		if item == nil {
			return nil
		}
		switch item := item.(type) {
		case imapclient.FetchItemDataUID:
			msg.UID = uint32(item.UID)
		case imapclient.FetchItemDataRFC822Size:
			msg.Size = item.Size
		case imapclient.FetchItemDataBodySection:
			var buf bytes.Buffer
			if item.Literal != nil {
				if _, err := io.Copy(&buf, item.Literal); err != nil {
					return fmt.Errorf("read body section: %w", err)
				}
			}
			if item.Section != nil && item.Section.Specifier == imap.PartSpecifierHeader {
				msg.Header = buf.Bytes()
			} else {
				msg.Text = buf.Bytes()
			}
		}
	}
}

// MarkSeen adds \Seen to the message with the given sequence number.
func (s *Session) MarkSeen(ctx context.Context, seqNum uint32) error {
	err := s.run(ctx, "STORE", func() error {
		return s.client.Store(imap.SeqSetNum(seqNum), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to mark message %d as read: %w", seqNum, err)
	}
	return nil
}

// Close logs out and closes the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	defer func() {
		metrics.ConnectionDuration.WithLabelValues("imap").Observe(time.Since(s.openedAt).Seconds())
	}()

	done := make(chan error, 1)
	go func() { done <- s.client.Logout().Wait() }()

	var logoutErr error
	select {
	case logoutErr = <-done:
	case <-time.After(5 * time.Second):
		logoutErr = errors.New("logout timed out")
	}
	if err := s.client.Close(); err != nil && logoutErr == nil {
		logoutErr = err
	}
	if logoutErr != nil {
		logger.Debug("IMAP logout did not complete cleanly", "error", logoutErr)
	}
	logger.Info("IMAP connection closed", "mailbox", s.Mailbox())
	return nil
}

// run executes one IMAP command, records its metrics and aborts it by
// closing the connection when ctx is cancelled.
func (s *Session) run(ctx context.Context, command string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.client.Close() })
	defer stop()

	start := time.Now()
	err := fn()
	metrics.IMAPCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.IMAPCommandsTotal.WithLabelValues(command, "failure").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	metrics.IMAPCommandsTotal.WithLabelValues(command, "success").Inc()
	return nil
}

// debugWriter logs protocol traffic line by line with LOGIN arguments masked.
type debugWriter struct{}

func (w *debugWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		logger.Debug("IMAP", "data", helpers.MaskLoginLine(line))
	}
	return len(p), nil
}
