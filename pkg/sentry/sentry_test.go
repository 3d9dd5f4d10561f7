package sentry

import (
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"
)

func TestReporter(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)
	require.False(t, r.Enabled())
	r.Send("dropped", InfoData{"k": "v"}, sentry.LevelError)
	require.True(t, r.Flush(time.Millisecond))

	_, err = New("not a dsn")
	require.Error(t, err)

	r, err = New("https://public@sentry.example.com/1")
	require.NoError(t, err)
	require.True(t, r.Enabled())
}
