package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVsMasksSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-123", "document_id", 7, "Authorization", "Bearer x"})
	assert.Equal(t, []interface{}{"api_key", "[REDACTED]", "document_id", 7, "Authorization", "[REDACTED]"}, out)
}

func TestSanitizeKVsKeepsDanglingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"stage", "chunking", "orphan"})
	assert.Equal(t, []interface{}{"stage", "chunking", "orphan"}, out)
}

func TestNopLogger(t *testing.T) {
	log := NewNop()
	log.With("component", "test").Info("hello", "k", "v")
	log.Sync()
}
