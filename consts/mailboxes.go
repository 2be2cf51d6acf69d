package consts

// DefaultMailbox is opened when the settings do not name one.
const DefaultMailbox = "INBOX"

// ReplyHeaderFields are the header fields fetched for diagnostics.
var ReplyHeaderFields = []string{"FROM", "TO", "SUBJECT", "DATE", "MESSAGE-ID"}
