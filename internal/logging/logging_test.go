package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Defaults(t *testing.T) {
	l, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, l.Underlying())
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&Config{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestContextFields_Session(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-123")
	ctx = WithRequestID(ctx, "req-9")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "session.id", fields[0].Key)
	assert.Equal(t, "request.id", fields[1].Key)
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestSessionIDRoundTrip(t *testing.T) {
	assert.Equal(t, "", SessionIDFromContext(context.Background()))
	ctx := WithSessionID(context.Background(), "abc")
	assert.Equal(t, "abc", SessionIDFromContext(ctx))
}
