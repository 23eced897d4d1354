// Package wire decodes raw inbound-parse webhook payloads. The gateway
// posts multipart/form-data with a fixed default boundary; bodies routinely
// arrive with broken encodings, so every byte is preserved via the Unicode
// replacement character rather than dropped.
package wire

import (
	"bytes"
	"errors"
	"mime"
	"strings"
	"unicode/utf8"
)

// DefaultBoundary is the boundary the gateway uses when none is declared.
const DefaultBoundary = "xYzZY"

// sniffLimit bounds the autodetection scan at the head of the payload.
const sniffLimit = 200

// ErrNoParts is returned when no recognizable part exists and no field
// could be reconstructed. The orchestrator maps it to HTTP 400.
var ErrNoParts = errors.New("wire: no recognizable multipart content")

// ErrPartial flags a payload that yielded fewer than two parts even after
// boundary autodetection. The partial field map is still returned.
var ErrPartial = errors.New("wire: partial multipart decode")

// Decode parses a raw multipart payload into a field map. The boundary is
// taken from contentType when present, otherwise DefaultBoundary. Parts
// without a name parameter are ignored; parts with an empty body are still
// emitted with an empty value.
func Decode(raw []byte, contentType string) (map[string]string, error) {
	boundary := boundaryFromContentType(contentType)

	fields := parseParts(raw, boundary)
	if len(fields) >= 2 {
		return fields, nil
	}

	// Fewer than two parts: scan the head of the payload for a boundary
	// token and retry once.
	if detected := detectBoundary(raw); detected != "" && detected != boundary {
		if retried := parseParts(raw, detected); len(retried) > len(fields) {
			fields = retried
		}
	}

	switch {
	case len(fields) == 0:
		return nil, ErrNoParts
	case len(fields) < 2:
		return fields, ErrPartial
	default:
		return fields, nil
	}
}

func boundaryFromContentType(contentType string) string {
	if contentType == "" {
		return DefaultBoundary
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return DefaultBoundary
	}
	if b := params["boundary"]; b != "" {
		return b
	}
	return DefaultBoundary
}

// detectBoundary scans the first bytes of the payload for "--" followed by
// a token, the shape of an opening boundary delimiter.
func detectBoundary(raw []byte) string {
	head := raw
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
	}
	idx := bytes.Index(head, []byte("--"))
	if idx < 0 {
		return ""
	}
	rest := head[idx+2:]
	end := bytes.IndexAny(rest, "\r\n")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(string(rest[:end]))
}

func parseParts(raw []byte, boundary string) map[string]string {
	if boundary == "" {
		return nil
	}
	fields := make(map[string]string)

	delim := []byte("--" + boundary)
	chunks := bytes.Split(raw, delim)
	for _, chunk := range chunks {
		name, value, ok := parsePart(chunk)
		if !ok {
			continue
		}
		fields[name] = value
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// parsePart splits one multipart chunk into its headers and body, returning
// the form field name and the decoded value.
func parsePart(chunk []byte) (name, value string, ok bool) {
	chunk = bytes.TrimLeft(chunk, "\r\n")
	if len(chunk) == 0 || bytes.HasPrefix(chunk, []byte("--")) {
		return "", "", false
	}

	headers, body, found := splitHeadersBody(chunk)
	if !found {
		return "", "", false
	}

	name = fieldName(headers)
	if name == "" {
		return "", "", false
	}

	// Trailing CRLF before the next delimiter belongs to the framing, not
	// the value.
	body = bytes.TrimSuffix(body, []byte("\r\n"))
	body = bytes.TrimSuffix(body, []byte("\n"))
	return name, toValidUTF8(body), true
}

func splitHeadersBody(chunk []byte) (headers, body []byte, ok bool) {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if idx := bytes.Index(chunk, sep); idx >= 0 {
			return chunk[:idx], chunk[idx+len(sep):], true
		}
	}
	return nil, nil, false
}

func fieldName(headers []byte) string {
	for _, line := range strings.Split(string(headers), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(line), "content-disposition:") {
			continue
		}
		_, params, err := mime.ParseMediaType(strings.TrimSpace(line[len("content-disposition:"):]))
		if err != nil {
			// Header is mangled; fish the name parameter out by hand.
			if idx := strings.Index(line, `name="`); idx >= 0 {
				rest := line[idx+len(`name="`):]
				if end := strings.IndexByte(rest, '"'); end >= 0 {
					return rest[:end]
				}
			}
			continue
		}
		return params["name"]
	}
	return ""
}

// toValidUTF8 replaces every invalid byte sequence with the Unicode
// replacement character. No bytes are dropped.
func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}
