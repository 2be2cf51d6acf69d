package consts

import "errors"

var (
	// ErrConfiguration marks missing or invalid IMAP/SMTP credentials, a missing
	// tunnel spec, or empty substituted endpoint fields. Always fatal to a run.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnection marks IMAP connect, mailbox-open and search failures.
	ErrConnection = errors.New("connection error")

	ErrSiteNotFound   = errors.New("site not found")
	ErrActionNotFound = errors.New("action not found")
	ErrNoReplies      = errors.New("no replies sent")
	ErrMalformedSites = errors.New("malformed sites data")
)
