package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}
	return buf, cleanup
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("INFO")

	SetLevel("DEBUG")
	assert.Equal(t, LevelDebug, Level(currentLevel.Load()))

	SetLevel("ERROR")
	assert.Equal(t, LevelError, Level(currentLevel.Load()))

	// Invalid level is ignored
	SetLevel("bogus")
	assert.Equal(t, LevelError, Level(currentLevel.Load()))
}

func TestSetFormat_JSON(t *testing.T) {
	defer SetFormat("text")
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	Info("handshake accepted", KeyTopic, "/chatter", KeyRole, "topic-server")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "handshake accepted", decoded["msg"])
	assert.Equal(t, "/chatter", decoded[KeyTopic])
	assert.Equal(t, "topic-server", decoded[KeyRole])
}

func TestLevelFiltering(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()
	SetFormat("json")
	defer SetFormat("text")

	SetLevel("WARN")
	defer SetLevel("INFO")

	Debug("should not appear")
	Info("should not appear either")
	assert.Empty(t, buf.String())

	Warn("this one appears")
	assert.Contains(t, buf.String(), "this one appears")
}

func TestContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()
	SetFormat("json")
	defer SetFormat("text")
	SetLevel("DEBUG")
	defer SetLevel("INFO")

	lc := NewConnContext("conn-1", "service-server", "127.0.0.1:54321").WithService("/sum")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "request dispatched")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "conn-1", decoded[KeyConnID])
	assert.Equal(t, "service-server", decoded[KeyRole])
	assert.Equal(t, "/sum", decoded[KeyService])
}

func TestLogContextClone(t *testing.T) {
	lc := NewConnContext("conn-2", "topic-client", "10.0.0.1:1234")
	clone := lc.WithTopic("/chatter")

	assert.Equal(t, "", lc.Topic, "original unaffected by WithTopic")
	assert.Equal(t, "/chatter", clone.Topic)
	assert.Equal(t, lc.ConnID, clone.ConnID)
}

func TestFromContext_Nil(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil))
}
