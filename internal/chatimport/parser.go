// Package chatimport ingests WhatsApp "Export chat" text files into the
// message store, so a group's history from before it was monitored can
// be queried alongside observed messages.
package chatimport

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mvtorres/groupwatch/internal/store"
)

// Export headers come in three shapes depending on platform and locale:
//
//	[DD/MM/YYYY, HH:MM:SS] Sender: body
//	DD/MM/YYYY, HH:MM - Sender: body
//	M/D/YY, H:MM AM - Sender: body
var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2,4},\s\d{1,2}:\d{2}:\d{2})\]\s([^:]+):\s(.*)$`),
	regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4},\s\d{1,2}:\d{2}\s[AP]M)\s-\s([^:]+):\s(.*)$`),
	regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4},\s\d{1,2}:\d{2})\s-\s([^:]+):\s(.*)$`),
}

// timestampFormats are tried in order. Day-first variants come before
// month-first so ambiguous dates resolve the way most export locales do.
var timestampFormats = []string{
	"2/1/2006, 15:04:05",
	"1/2/2006, 15:04:05",
	"2/1/2006, 15:04",
	"1/2/2006, 15:04",
	"2/1/06, 15:04",
	"1/2/06, 15:04",
	"2/1/2006, 3:04 PM",
	"1/2/2006, 3:04 PM",
	"2/1/06, 3:04 PM",
	"1/2/06, 3:04 PM",
}

// mediaMarkers are bodies the exporter substitutes for attachments.
var mediaMarkers = []string{
	"<Media omitted>",
	"(file attached)",
}

// Summary describes one parsed export.
type Summary struct {
	MessageCount int            `json:"message_count"`
	SenderCounts map[string]int `json:"sender_counts"`
	FirstTS      int64          `json:"first_ts"`
	LastTS       int64          `json:"last_ts"`
}

// ParseFile parses a WhatsApp chat export into store messages for the
// given group. Message ids are synthesized deterministically so
// re-importing the same file is idempotent through the normal upsert.
func ParseFile(path, groupID string) ([]*store.Message, *Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open export: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f, groupID)
}

// Parse reads an export stream line by line. A line matching a header
// starts a message; following non-header lines are continuations of the
// open message's body. Headerless system lines before the first message
// are skipped.
func Parse(r io.Reader, groupID string) ([]*store.Message, *Summary, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var msgs []*store.Message
	var open *store.Message

	flush := func() {
		if open == nil {
			return
		}
		open.Body = strings.TrimSpace(open.Body)
		open.HasMedia = hasMediaMarker(open.Body)
		open.MsgID = syntheticID(groupID, open.Timestamp, open.SenderName, open.Body)
		msgs = append(msgs, open)
		open = nil
	}

	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "‎")

		ts, sender, body, ok := matchHeader(line)
		if !ok {
			if open != nil {
				open.Body += "\n" + line
			}
			continue
		}
		flush()
		open = &store.Message{
			GroupID:    groupID,
			SenderName: sender,
			Body:       body,
			Type:       "text",
			Timestamp:  ts,
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read export: %w", err)
	}

	return msgs, summarize(msgs), nil
}

func matchHeader(line string) (ts int64, sender, body string, ok bool) {
	for _, re := range headerPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t, err := parseTimestamp(m[1])
		if err != nil {
			continue
		}
		return t.UnixMilli(), strings.TrimSpace(m[2]), m[3], true
	}
	return 0, "", "", false
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func hasMediaMarker(body string) bool {
	for _, marker := range mediaMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// syntheticID derives a stable message id from the message content.
// Imported ids carry an imp- prefix so they can never collide with
// source-assigned ids.
func syntheticID(groupID string, ts int64, sender, body string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", groupID, ts, sender, body)))
	return "imp-" + hex.EncodeToString(h[:])[:24]
}

func summarize(msgs []*store.Message) *Summary {
	s := &Summary{SenderCounts: make(map[string]int)}
	for _, m := range msgs {
		s.MessageCount++
		s.SenderCounts[m.SenderName]++
		if s.FirstTS == 0 || m.Timestamp < s.FirstTS {
			s.FirstTS = m.Timestamp
		}
		if m.Timestamp > s.LastTS {
			s.LastTS = m.Timestamp
		}
	}
	return s
}
