package thread

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/arganhr/mailroom/internal/domain"
)

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

// Merge folds incoming entries into an existing history: contents are
// whitespace-normalized, duplicates dropped by fingerprint, the union sorted
// by parsed timestamp (fingerprint order on equal timestamps, arrival order
// when a timestamp cannot be parsed), and orders renumbered from 1. The
// inputs are not mutated.
func Merge(existing, incoming []domain.ConversationEntry) []domain.ConversationEntry {
	merged := make([]domain.ConversationEntry, 0, len(existing)+len(incoming))
	seen := make(map[uint64]struct{})

	for _, entry := range append(append([]domain.ConversationEntry{}, existing...), incoming...) {
		entry.Content = NormalizeContent(entry.Content)
		if entry.Content == "" {
			continue
		}
		fp := Fingerprint(entry)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		merged = append(merged, entry)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		ti, okI := domain.ParseSenderTime(merged[i].SenderDatetime)
		tj, okJ := domain.ParseSenderTime(merged[j].SenderDatetime)
		if okI && okJ {
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return Fingerprint(merged[i]) < Fingerprint(merged[j])
		}
		// Unparseable timestamps keep their arrival order.
		return false
	})

	for i := range merged {
		merged[i].Order = i + 1
	}
	return merged
}

// NormalizeContent collapses runs of spaces and tabs and trims each line, so
// mailer re-wrapping does not defeat duplicate detection.
func NormalizeContent(content string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	return strings.TrimSpace(out)
}

// Fingerprint identifies an entry by sender and normalized content.
// Timestamps are excluded: quoting mailers rewrite them freely.
func Fingerprint(entry domain.ConversationEntry) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s", strings.ToLower(entry.SenderEmail), NormalizeContent(entry.Content))
	return h.Sum64()
}
