package domain

import (
	"strings"
	"time"
)

// SenderTimeLayout is the human-facing canonical form for entry timestamps,
// e.g. "03/06/2025 05:55 BST".
const SenderTimeLayout = "02/01/2006 15:04 MST"

// ConversationEntry is a single attributable message within a thread.
type ConversationEntry struct {
	SenderEmail    string `json:"sender_email"`
	SenderName     string `json:"sender_name"`
	SenderDatetime string `json:"sender_datetime"`
	Content        string `json:"content"`
	Order          int    `json:"order"`
}

// FormatSenderTime renders an instant in the canonical entry form, in the
// given location.
func FormatSenderTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(SenderTimeLayout)
}

// ParseSenderTime attempts to recover an instant from an entry timestamp.
// Quoted blocks carry dates in whatever shape the sending client used, so a
// handful of common layouts are tried before giving up.
func ParseSenderTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{
		SenderTimeLayout,
		"02/01/2006 15:04",
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006, at 15:04",
		time.RFC3339,
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
