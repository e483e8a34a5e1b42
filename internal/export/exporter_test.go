package export

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
	"github.com/mailsteward/mailsteward/internal/userplane"
)

func sampleMessages() []*model.MessageIndex {
	return []*model.MessageIndex{
		{
			ID:         "m1",
			ThreadID:   "t1",
			Subject:    "Quarterly report",
			Sender:     "Alice <alice@example.com>",
			Recipients: model.Strings{"bob@example.com"},
			Date:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			Year:       2025,
			SizeBytes:  4096,
			Labels:     model.Strings{"INBOX", "IMPORTANT"},
			Snippet:    "numbers attached\nFrom the finance team",
		},
		{
			ID:       "m2",
			Subject:  "a subject, with commas",
			Sender:   "carol@corp.io",
			Date:     time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
			Year:     2024,
			Archived: true,
		},
	}
}

func TestEncodeJSON_Envelope(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	out, err := EncodeJSON(sampleMessages(), now)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Equal(t, 2, env.EmailCount)
	assert.Equal(t, now, env.ExportDate)
	require.Len(t, env.Emails, 2)
	assert.Equal(t, "m1", env.Emails[0].ID)
}

func TestEncodeMbox_FramingAndEscaping(t *testing.T) {
	out := string(EncodeMbox(sampleMessages()))

	assert.True(t, strings.HasPrefix(out, "From alice@example.com "))
	assert.Contains(t, out, "\nFrom carol@corp.io ")
	assert.Contains(t, out, "Subject: Quarterly report\n")
	assert.Contains(t, out, "Message-ID: <m1>\n")
	// A body line starting with "From " is quoted.
	assert.Contains(t, out, "\n>From the finance team\n")
}

func TestEncodeCSV_HeaderAndQuoting(t *testing.T) {
	out, err := EncodeCSV(sampleMessages())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,thread_id,subject,sender,recipients,date,year,size,labels,archived", lines[0])
	assert.Contains(t, lines[1], "INBOX;IMPORTANT")
	// The comma-bearing subject is quoted.
	assert.Contains(t, lines[2], `"a subject, with commas"`)
	assert.True(t, strings.HasSuffix(lines[2], "true"))
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	_, err := Encode(nil, "xml", time.Now())
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestExporter_WritesThroughFileManager(t *testing.T) {
	dir := t.TempDir()
	system, err := store.OpenSystem(filepath.Join(dir, "system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = system.Close() })
	factory, err := store.NewFactory(filepath.Join(dir, "users"), time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })
	files, err := userplane.NewFileManager(filepath.Join(dir, "archive"), system, zap.NewNop())
	require.NoError(t, err)

	e := NewExporter(files, factory, zap.NewNop())
	location, size, err := e.Export(context.Background(), "u1", sampleMessages(), FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, location, "user_u1")
	assert.Greater(t, size, int64(0))

	st, err := factory.ForUser("u1")
	require.NoError(t, err)
	listed, err := st.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, location, listed[0].FilePath)
}
