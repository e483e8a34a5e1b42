// Package export renders message metadata into portable formats (json, mbox,
// csv) and writes the result through the file access control manager.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

// Supported export formats.
const (
	FormatJSON = "json"
	FormatMbox = "mbox"
	FormatCSV  = "csv"
)

// Envelope is the JSON export document.
type Envelope struct {
	ExportDate time.Time             `json:"exportDate"`
	EmailCount int                   `json:"emailCount"`
	Emails     []*model.MessageIndex `json:"emails"`
}

// Encode renders the messages in the requested format.
func Encode(msgs []*model.MessageIndex, format string, now time.Time) ([]byte, error) {
	switch format {
	case FormatJSON:
		return EncodeJSON(msgs, now)
	case FormatMbox:
		return EncodeMbox(msgs), nil
	case FormatCSV:
		return EncodeCSV(msgs)
	default:
		return nil, model.Validationf("unsupported export format %q", format)
	}
}

// EncodeJSON renders the envelope document.
func EncodeJSON(msgs []*model.MessageIndex, now time.Time) ([]byte, error) {
	env := Envelope{ExportDate: now.UTC(), EmailCount: len(msgs), Emails: msgs}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding json export: %w", err)
	}
	return out, nil
}

// EncodeMbox renders an RFC 4155 mbox: each message is framed by a "From "
// separator line. Only metadata is mirrored locally, so the body carries the
// snippet.
func EncodeMbox(msgs []*model.MessageIndex) []byte {
	var b bytes.Buffer
	for _, m := range msgs {
		date := m.Date.UTC().Format("Mon Jan _2 15:04:05 2006")
		fmt.Fprintf(&b, "From %s %s\n", senderAddr(m.Sender), date)
		fmt.Fprintf(&b, "From: %s\n", m.Sender)
		if len(m.Recipients) > 0 {
			fmt.Fprintf(&b, "To: %s\n", strings.Join(m.Recipients, ", "))
		}
		fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
		fmt.Fprintf(&b, "Date: %s\n", m.Date.UTC().Format(time.RFC1123Z))
		fmt.Fprintf(&b, "Message-ID: <%s>\n", m.ID)
		b.WriteByte('\n')
		b.WriteString(escapeFromLines(m.Snippet))
		b.WriteString("\n\n")
	}
	return b.Bytes()
}

// EncodeCSV renders one row per message.
func EncodeCSV(msgs []*model.MessageIndex) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write([]string{
		"id", "thread_id", "subject", "sender", "recipients",
		"date", "year", "size", "labels", "archived",
	}); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for _, m := range msgs {
		row := []string{
			m.ID,
			m.ThreadID,
			m.Subject,
			m.Sender,
			strings.Join(m.Recipients, ";"),
			m.Date.UTC().Format(time.RFC3339),
			strconv.Itoa(m.Year),
			strconv.FormatInt(m.SizeBytes, 10),
			strings.Join(m.Labels, ";"),
			strconv.FormatBool(m.Archived),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv export: %w", err)
	}
	return b.Bytes(), nil
}

// escapeFromLines applies mboxo quoting so body lines cannot masquerade as
// message separators.
func escapeFromLines(body string) string {
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "From ") {
			lines[i] = ">" + l
		}
	}
	return strings.Join(lines, "\n")
}

func senderAddr(sender string) string {
	if i := strings.LastIndexByte(sender, '<'); i >= 0 {
		return strings.TrimRight(sender[i+1:], "> ")
	}
	if sender == "" {
		return "unknown"
	}
	return sender
}

// Exporter writes exports through the file manager, satisfying the cleanup
// executor's export hook.
type Exporter struct {
	files   *userplane.FileManager
	factory *store.Factory
	log     *zap.Logger
	now     func() time.Time
}

// NewExporter builds an exporter.
func NewExporter(files *userplane.FileManager, factory *store.Factory, log *zap.Logger) *Exporter {
	return &Exporter{files: files, factory: factory, log: log.Named("export"), now: time.Now}
}

// Export encodes the messages and stores the file under the user's export
// directory, returning its absolute path and size.
func (e *Exporter) Export(ctx context.Context, userID string, msgs []*model.MessageIndex, format string) (string, int64, error) {
	now := e.now().UTC()
	data, err := Encode(msgs, format, now)
	if err != nil {
		return "", 0, err
	}
	st, err := e.factory.ForUser(userID)
	if err != nil {
		return "", 0, err
	}
	name := fmt.Sprintf("export-%s.%s", now.Format("20060102-150405"), format)
	meta, err := e.files.WriteFile(ctx, st, userID, name, data, nil)
	if err != nil {
		return "", 0, err
	}
	e.log.Info("export written",
		zap.String("user_id", userID),
		zap.String("format", format),
		zap.Int("messages", len(msgs)))
	return meta.FilePath, meta.SizeBytes, nil
}
