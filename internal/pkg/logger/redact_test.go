package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***67", RedactPhone("+15551234567"))
	assert.Equal(t, "***", RedactPhone("55"))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "fcm-tok-***", RedactToken("fcm-tok-abcdef0123456789"))
	assert.Equal(t, "***", RedactToken("short"))
}
