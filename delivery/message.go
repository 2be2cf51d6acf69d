package delivery

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/ProcessMaker/testbench/helpers"
)

// buildMessage renders the reply as a single text/plain part encoded as
// quoted-printable.
func buildMessage(cfg SMTPConfig, reply helpers.Mailto, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: cfg.FromName, Address: cfg.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: reply.To}})
	h.SetSubject(reply.Subject)
	h.SetMessageID(fmt.Sprintf("%s@%s", uuid.NewString(), messageIDDomain(cfg.FromAddress)))
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply writer: %w", err)
	}
	if _, err := io.WriteString(w, reply.BodyText); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish reply: %w", err)
	}
	return buf.Bytes(), nil
}

func messageIDDomain(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "testbench.local"
}
