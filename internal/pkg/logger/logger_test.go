package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestInfo_EmitsStructuredJSON(t *testing.T) {
	buf := captureOutput(t)

	Info("email sent", "notification_id", "n-1", "provider_id", "ses-123")

	entry := lastEntry(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "email sent", entry["msg"])
	assert.Equal(t, "n-1", entry["notification_id"])
	assert.Equal(t, "ses-123", entry["provider_id"])
	assert.NotEmpty(t, entry["time"])
}

func TestLog_RedactsPIIByFieldKey(t *testing.T) {
	buf := captureOutput(t)

	Info("sms sent",
		"email", "john.doe@example.com",
		"phone", "+15551234567",
		"token", "fcm-tok-abcdef0123456789")

	entry := lastEntry(t, buf)
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "***67", entry["phone"])
	assert.Equal(t, "fcm-tok-***", entry["token"])
}

func TestLog_RedactsEmbeddedEmailInGenericField(t *testing.T) {
	buf := captureOutput(t)

	Error("send failed", "error", "mailbox john.doe@example.com rejected")

	entry := lastEntry(t, buf)
	assert.Equal(t, "mailbox jo***@example.com rejected", entry["error"])
}

func TestSetLevel_FiltersBelowThreshold(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	Info("dropped", "k", "v")
	assert.Zero(t, buf.Len())

	Warn("kept", "k", "v")
	entry := lastEntry(t, buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
}

func TestSetRedactPII_DisabledKeepsRawValues(t *testing.T) {
	buf := captureOutput(t)
	SetRedactPII(false)

	Info("debugging delivery", "email", "john.doe@example.com")

	entry := lastEntry(t, buf)
	assert.Equal(t, "john.doe@example.com", entry["email"])
}
