// Package mailer builds and delivers acknowledgment emails.
package mailer

import (
	"fmt"
	"strings"

	"github.com/arganhr/mailroom/internal/config"
	"github.com/arganhr/mailroom/internal/domain"
)

// Ack is a rendered acknowledgment ready to send.
type Ack struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// greetingThreshold is the extraction confidence below which the greeting
// stays impersonal.
const greetingThreshold = 0.5

// maxQuotedBody bounds the quoted original enquiry in the acknowledgment.
const maxQuotedBody = 1000

// TemplateInput carries everything the acknowledgment needs.
type TemplateInput struct {
	TicketID        string
	FirstName       string
	NameConfidence  float64
	OriginalSubject string
	OriginalBody    string
	Priority        domain.TicketPriority
}

// Templates renders acknowledgments. Custom text and HTML bodies from
// configuration take precedence over the built-in layout; both support the
// {first_name}, {ticket_id}, {original_subject}, {original_body} and
// {priority} placeholders.
type Templates struct {
	companyName  string
	markerPhrase string
	customText   string
	customHTML   string
}

// NewTemplates builds the renderer for an installation.
func NewTemplates(companyName string, ack config.AckConfig) *Templates {
	return &Templates{
		companyName:  companyName,
		markerPhrase: ack.MarkerPhrase,
		customText:   ack.TemplateText,
		customHTML:   ack.TemplateHTML,
	}
}

// Render produces the acknowledgment subject and bodies.
func (t *Templates) Render(in TemplateInput) Ack {
	greeting := Greeting(in.FirstName, in.NameConfidence)
	subject := fmt.Sprintf("[%s] %s - Call Logged", in.TicketID, t.companyName)

	replacer := strings.NewReplacer(
		"{first_name}", in.FirstName,
		"{ticket_id}", in.TicketID,
		"{original_subject}", in.OriginalSubject,
		"{original_body}", quoteBody(in.OriginalBody),
		"{priority}", string(in.Priority),
	)

	ack := Ack{Subject: subject}
	if t.customText != "" {
		ack.TextBody = replacer.Replace(t.customText)
	} else {
		ack.TextBody = t.defaultText(greeting, in)
	}
	if t.customHTML != "" {
		ack.HTMLBody = replacer.Replace(t.customHTML)
	} else {
		ack.HTMLBody = t.defaultHTML(greeting, in)
	}
	return ack
}

func (t *Templates) defaultText(greeting string, in TemplateInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s,\n\n", greeting)
	fmt.Fprintf(&sb, "Thank you for contacting %s. %s %s.\n\n", t.companyName, t.markerPhrase, in.TicketID)

	fmt.Fprintf(&sb, "┌─────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&sb, "│ Original Subject: %-45s │\n", clip(in.OriginalSubject, 45))
	fmt.Fprintf(&sb, "│ Priority: %-53s │\n", in.Priority)
	fmt.Fprintf(&sb, "│ Ticket Number: %-48s │\n", in.TicketID)
	fmt.Fprintf(&sb, "└─────────────────────────────────────────────────────────────────┘\n\n")

	sb.WriteString("We will review your request and respond within our standard timeframe:\n\n")
	sb.WriteString("• Urgent matters: Within 4 hours\n")
	sb.WriteString("• High priority: Within 24 hours\n")
	sb.WriteString("• Normal requests: Within 2-3 business days\n\n")
	fmt.Fprintf(&sb, "Your request will be handled %s.\n\n", ResponseTimeframe(in.Priority))
	fmt.Fprintf(&sb, "If you need to follow up on this matter, please reference ticket number %s in your subject line.\n\n", in.TicketID)

	fmt.Fprintf(&sb, "Original Enquiry (for reference):\n\n%s\n\n", quoteBody(in.OriginalBody))
	fmt.Fprintf(&sb, "Thank you for your patience.\n\nBest regards,\n%s\n\n", t.companyName)
	sb.WriteString("---\nThis is an automated response. Please do not reply to this email.\n")
	return sb.String()
}

func (t *Templates) defaultHTML(greeting string, in TemplateInput) string {
	var sb strings.Builder
	sb.WriteString("<html><body>\n")
	fmt.Fprintf(&sb, "<p>%s,</p>\n", htmlEscape(greeting))
	fmt.Fprintf(&sb, "<p>Thank you for contacting %s. %s <strong>%s</strong>.</p>\n",
		htmlEscape(t.companyName), htmlEscape(t.markerPhrase), htmlEscape(in.TicketID))
	fmt.Fprintf(&sb, "<table border=\"1\" cellpadding=\"6\"><tr><td>Original Subject</td><td>%s</td></tr>", htmlEscape(in.OriginalSubject))
	fmt.Fprintf(&sb, "<tr><td>Priority</td><td>%s</td></tr>", htmlEscape(string(in.Priority)))
	fmt.Fprintf(&sb, "<tr><td>Ticket Number</td><td>%s</td></tr></table>\n", htmlEscape(in.TicketID))
	fmt.Fprintf(&sb, "<p>Your request will be handled %s.</p>\n", htmlEscape(ResponseTimeframe(in.Priority)))
	fmt.Fprintf(&sb, "<p><em>If you need to follow up on this matter, please reference ticket number %s in your subject line.</em></p>\n", htmlEscape(in.TicketID))
	fmt.Fprintf(&sb, "<blockquote>%s</blockquote>\n", htmlEscape(clip(in.OriginalBody, maxQuotedBody)))
	fmt.Fprintf(&sb, "<p>Best regards,<br>%s</p>\n", htmlEscape(t.companyName))
	sb.WriteString("</body></html>\n")
	return sb.String()
}

// Greeting personalizes the salutation when the extracted name is solid
// enough, and stays impersonal otherwise.
func Greeting(firstName string, confidence float64) string {
	name := strings.TrimSpace(firstName)
	if name == "" || confidence < greetingThreshold {
		return "Hello"
	}
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	switch strings.ToLower(name) {
	case "unknown", "user", "customer":
		return "Hello"
	}
	if name == strings.ToLower(name) {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return "Hi " + name
}

// ResponseTimeframe maps a priority to its promised response window.
func ResponseTimeframe(priority domain.TicketPriority) string {
	switch strings.ToLower(string(priority)) {
	case "urgent":
		return "within 4 hours"
	case "high":
		return "within 24 hours"
	default:
		return "within 2-3 business days"
	}
}

// quoteBody indents the original enquiry as a quoted block, clipped so huge
// bodies do not balloon the acknowledgment.
func quoteBody(body string) string {
	body = clip(strings.TrimSpace(body), maxQuotedBody)
	if body == "" {
		return "> (no message body)"
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
