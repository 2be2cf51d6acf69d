package mailbox_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProcessMaker/testbench/delivery"
	"github.com/ProcessMaker/testbench/helpers"
	"github.com/ProcessMaker/testbench/mailbox"
	"github.com/ProcessMaker/testbench/pkg/metrics"
	"github.com/ProcessMaker/testbench/replier"
	"github.com/ProcessMaker/testbench/settings"
)

type scriptedMessage struct {
	UID    uint32
	Header string
	Text   string
}

// scriptedIMAPServer answers the IMAP4rev1 commands a Session sends, over
// implicit TLS with a self-signed certificate. Every message is unseen;
// message i has sequence number i+1.
type scriptedIMAPServer struct {
	messages    []scriptedMessage
	logoutDelay time.Duration

	mu       sync.Mutex
	commands []string
}

// start listens on a loopback port and returns a config pointing at it.
func (s *scriptedIMAPServer) start(t *testing.T) mailbox.Config {
	t.Helper()

	certSrv := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(certSrv.Close)

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: certSrv.TLS.Certificates})
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return mailbox.Config{
		User:        "receiver@example.test",
		Password:    "secret",
		Host:        host,
		Port:        port,
		Mailbox:     "INBOX",
		DialTimeout: 5 * time.Second,
	}
}

func (s *scriptedIMAPServer) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			_, _ = w.WriteString(l + "\r\n")
		}
		_ = w.Flush()
	}

	reply("* OK [CAPABILITY IMAP4rev1] scripted server ready")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		tag, command, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
		s.record(command)

		name, args, _ := strings.Cut(command, " ")
		switch strings.ToUpper(name) {
		case "CAPABILITY":
			reply("* CAPABILITY IMAP4rev1", tag+" OK CAPABILITY completed")
		case "LOGIN":
			reply(tag + " OK [CAPABILITY IMAP4rev1] LOGIN completed")
		case "SELECT":
			reply(fmt.Sprintf("* %d EXISTS", len(s.messages)),
				`* FLAGS (\Seen)`,
				"* OK [UIDVALIDITY 1] UIDs valid",
				tag+" OK [READ-WRITE] SELECT completed")
		case "SEARCH":
			resp := "* SEARCH"
			for i := range s.messages {
				resp += " " + strconv.Itoa(i+1)
			}
			reply(resp, tag+" OK SEARCH completed")
		case "FETCH":
			seqStr, _, _ := strings.Cut(args, " ")
			seq, err := strconv.Atoi(seqStr)
			if err != nil || seq < 1 || seq > len(s.messages) {
				reply(tag + " NO no such message")
				continue
			}
			reply(fetchResponse(seq, s.messages[seq-1]), tag+" OK FETCH completed")
		case "STORE":
			reply(tag + " OK STORE completed")
		case "LOGOUT":
			time.Sleep(s.logoutDelay)
			reply("* BYE logging out", tag+" OK LOGOUT completed")
			return
		default:
			reply(tag + " BAD unknown command")
		}
	}
}

func fetchResponse(seq int, m scriptedMessage) string {
	return fmt.Sprintf("* %d FETCH (UID %d RFC822.SIZE %d "+
		`BODY[HEADER.FIELDS ("FROM" "TO" "SUBJECT" "DATE" "MESSAGE-ID")] {%d}`+"\r\n%s "+
		"BODY[TEXT] {%d}\r\n%s)",
		seq, m.UID, len(m.Header)+len(m.Text), len(m.Header), m.Header, len(m.Text), m.Text)
}

func (s *scriptedIMAPServer) record(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
}

// received returns the commands in arrival order, without the CAPABILITY
// requests the client may issue on its own.
func (s *scriptedIMAPServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.commands {
		if !strings.EqualFold(c, "CAPABILITY") {
			out = append(out, c)
		}
	}
	return out
}

// steps reduces received commands to their name plus the sequence number
// for FETCH and STORE, e.g. "FETCH 2".
func (s *scriptedIMAPServer) steps() []string {
	var out []string
	for _, c := range s.received() {
		fields := strings.Fields(c)
		step := strings.ToUpper(fields[0])
		if (step == "FETCH" || step == "STORE") && len(fields) > 1 {
			step += " " + fields[1]
		}
		out = append(out, step)
	}
	return out
}

func imapSessionSeconds(t *testing.T) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, metrics.ConnectionDuration.WithLabelValues("imap").(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleSum()
}

const scriptedHeader = "From: Workflow <noreply@example.com>\r\n" +
	"Subject: Please review\r\n\r\n"

func TestSession_SearchFetchMarkSeenOverTLS(t *testing.T) {
	srv := &scriptedIMAPServer{messages: []scriptedMessage{
		{UID: 41, Header: scriptedHeader, Text: "first body"},
		{UID: 42, Header: scriptedHeader, Text: "<p>second body</p>"},
	}}
	cfg := srv.start(t)
	ctx := context.Background()

	s, err := mailbox.Open(ctx, cfg)
	require.NoError(t, err)

	seqNums, err := s.SearchUnseen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, seqNums)

	msg, err := s.Fetch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), msg.SeqNum)
	assert.Equal(t, uint32(42), msg.UID)
	assert.Equal(t, int64(len(scriptedHeader)+len("<p>second body</p>")), msg.Size)
	assert.Equal(t, scriptedHeader, string(msg.Header))
	assert.Equal(t, "<p>second body</p>", string(msg.Text))

	require.NoError(t, s.MarkSeen(ctx, 2))
	require.NoError(t, s.Close())

	commands := srv.received()
	require.Len(t, commands, 6)
	assert.Equal(t, `LOGIN "receiver@example.test" "secret"`, commands[0])
	assert.Equal(t, "SELECT INBOX", commands[1])
	assert.Equal(t, "SEARCH UNSEEN", commands[2])

	fetch := commands[3]
	assert.True(t, strings.HasPrefix(fetch, "FETCH 2 ("), fetch)
	assert.Contains(t, fetch, "UID")
	assert.Contains(t, fetch, "RFC822.SIZE")
	assert.Contains(t, fetch, `BODY.PEEK[HEADER.FIELDS ("FROM" "TO" "SUBJECT" "DATE" "MESSAGE-ID")]`)
	assert.Contains(t, fetch, "BODY.PEEK[TEXT]")
	assert.NotContains(t, fetch, "BODY[")

	assert.Equal(t, `STORE 2 +FLAGS.SILENT (\Seen)`, commands[4])
	assert.Equal(t, "LOGOUT", commands[5])
}

func TestSession_FetchUnknownMessageFails(t *testing.T) {
	srv := &scriptedIMAPServer{messages: []scriptedMessage{{UID: 7, Header: scriptedHeader, Text: "body"}}}
	cfg := srv.start(t)
	ctx := context.Background()

	s, err := mailbox.Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Fetch(ctx, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch of message 5 failed")
}

func TestSessionClose_ObservesWholeSessionIncludingLogout(t *testing.T) {
	srv := &scriptedIMAPServer{logoutDelay: 300 * time.Millisecond}
	cfg := srv.start(t)

	s, err := mailbox.Open(context.Background(), cfg)
	require.NoError(t, err)

	before := imapSessionSeconds(t)
	require.NoError(t, s.Close())
	after := imapSessionSeconds(t)

	assert.GreaterOrEqual(t, after-before, srv.logoutDelay.Seconds())
}

type recordingSender struct {
	mu   sync.Mutex
	sent []helpers.Mailto
}

func (r *recordingSender) Send(_ context.Context, reply helpers.Mailto) error {
	r.mu.Lock()
	r.sent = append(r.sent, reply)
	r.mu.Unlock()
	if reply.To == "fail@b.com" {
		return &delivery.SendError{Err: errors.New("451 4.3.0 try again later"), Permanent: false}
	}
	return nil
}

func TestEngineRun_AgainstIMAPServer(t *testing.T) {
	srv := &scriptedIMAPServer{messages: []scriptedMessage{
		{UID: 101, Header: scriptedHeader, Text: "<p>Your request was received.</p>"},
		{UID: 102, Header: scriptedHeader, Text: `<a href=3D"mailto:ok@b.com?subject=3DHi&amp;bo=` + "\r\n" + `dy=3DYes">Reply</a>`},
		{UID: 103, Header: scriptedHeader, Text: `<a href=3D"mailto:fail@b.com?subject=3DHi">Reply</a>`},
	}}
	cfg := srv.start(t)

	sender := &recordingSender{}
	engine := replier.New(replier.Options{
		DialTimeout: 5 * time.Second,
		NewSender:   func(delivery.SMTPConfig) replier.Sender { return sender },
	})

	outcome, err := engine.Run(context.Background(), settings.Settings{
		settings.KeyIMAPServer:   cfg.Host,
		settings.KeyIMAPPort:     strconv.Itoa(cfg.Port),
		settings.KeyIMAPUsername: cfg.User,
		settings.KeyIMAPPassword: cfg.Password,
		settings.KeyMailHost:     "smtp.example.com",
		settings.KeyMailUsername: "bot@example.com",
		settings.KeyMailPassword: "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, replier.Outcome{Processed: 3, Replied: 1, Skipped: 1, Failed: 1}, outcome)
	assert.Equal(t, []string{
		"LOGIN", "SELECT", "SEARCH",
		"FETCH 1", "STORE 1",
		"FETCH 2", "STORE 2",
		"FETCH 3",
		"LOGOUT",
	}, srv.steps())

	require.Len(t, sender.sent, 2)
	assert.Equal(t, helpers.Mailto{To: "ok@b.com", Subject: "Hi", BodyText: "Yes"}, sender.sent[0])
	assert.Equal(t, "fail@b.com", sender.sent[1].To)
}
