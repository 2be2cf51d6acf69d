package mailbox

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/settings"
)

const DefaultIMAPPort = 993

// Config describes the mailbox polled for notifications. It is not changed
// after a session is opened.
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Mailbox  string

	// TLSVerify enables certificate checks. Test mail servers use
	// self-signed certificates, so it is off by default.
	TLSVerify   bool
	DialTimeout time.Duration
	// Debug logs the protocol exchange at debug level, LOGIN arguments masked.
	Debug bool
}

// ConfigFromSettings builds the session config from the abe_imap_* settings.
// defaultUser is used when the settings carry no abe_imap_username.
func ConfigFromSettings(s settings.Settings, defaultUser string) (Config, error) {
	cfg := Config{
		User:     s.Get(settings.KeyIMAPUsername),
		Password: s[settings.KeyIMAPPassword],
		Host:     s.Get(settings.KeyIMAPServer),
		Port:     s.Port(settings.KeyIMAPPort, DefaultIMAPPort),
		Mailbox:  s.Get(settings.KeyIMAPPath),
	}
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = consts.DefaultMailbox
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields needed to log in.
func (c Config) Validate() error {
	if c.User == "" || c.Password == "" || c.Host == "" {
		return fmt.Errorf("%w: missing required IMAP configuration (user, abe_imap_password, abe_imap_server)", consts.ErrConfiguration)
	}
	return nil
}

// Address returns host:port of the IMAP server.
func (c Config) Address() string {
	port := c.Port
	if port <= 0 {
		port = DefaultIMAPPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// MailboxName returns the mailbox to select.
func (c Config) MailboxName() string {
	if c.Mailbox == "" {
		return consts.DefaultMailbox
	}
	return c.Mailbox
}
