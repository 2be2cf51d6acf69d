package delivery

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ProcessMaker/testbench/consts"
	"github.com/ProcessMaker/testbench/settings"
)

const (
	DefaultSMTPPort = 587
	DefaultFromName = "TestBench"
)

// SMTPConfig describes the submission server replies are sent through.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromName    string
	FromAddress string

	// Timeout bounds dialing and each SMTP command. Zero dials with a 30s
	// limit and keeps the client's command defaults.
	Timeout time.Duration
	// TLSVerify enables certificate checks on STARTTLS. Test mail servers
	// use self-signed certificates, so it is off by default.
	TLSVerify bool
}

// SMTPConfigFromSettings builds the reply sender config from the
// EMAIL_CONNECTOR_MAIL_* settings. Host, username and password are required.
func SMTPConfigFromSettings(s settings.Settings) (SMTPConfig, error) {
	cfg := SMTPConfig{
		Host:        s.Get(settings.KeyMailHost),
		Port:        s.Port(settings.KeyMailPort, DefaultSMTPPort),
		Username:    s.Get(settings.KeyMailUsername),
		Password:    s[settings.KeyMailPassword],
		FromName:    s.Get(settings.KeyMailFromName),
		FromAddress: s.Get(settings.KeyMailFromAddress),
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = cfg.Username
	}
	if err := cfg.Validate(); err != nil {
		return SMTPConfig{}, err
	}
	return cfg, nil
}

// Validate checks that the settings needed to submit a reply are present.
func (c SMTPConfig) Validate() error {
	if c.Host == "" || c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: missing required SMTP configuration (EMAIL_CONNECTOR_MAIL_HOST, EMAIL_CONNECTOR_MAIL_USERNAME, EMAIL_CONNECTOR_MAIL_PASSWORD)", consts.ErrConfiguration)
	}
	return nil
}

// Address returns host:port of the submission server.
func (c SMTPConfig) Address() string {
	port := c.Port
	if port <= 0 {
		port = DefaultSMTPPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}
