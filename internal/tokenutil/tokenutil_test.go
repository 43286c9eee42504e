package tokenutil

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/stretchr/testify/require"
)

func TestEstimateFast(t *testing.T) {
	require.Equal(t, 0, EstimateFast("   "))
	require.Equal(t, 1, EstimateFast("hi"))
	require.Equal(t, 3, EstimateFast("one two three"))
	require.Equal(t, 25, EstimateFast(strings.Repeat("a", 100)))
}

func TestCountTokensIsPositiveForText(t *testing.T) {
	require.Greater(t, CountTokens("show me the weather on the ipad"), 0)
	require.Equal(t, 0, CountTokens(""))
}

func TestTruncateToTokensLeavesShortText(t *testing.T) {
	require.Equal(t, "short", TruncateToTokens("short", 100))
	require.Equal(t, "anything", TruncateToTokens("anything", 0))
	require.True(t, strings.HasSuffix(TruncateToTokens(strings.Repeat("word ", 500), 10), "..."))
}

func TestCountersNeverLoadTheEncodingThemselves(t *testing.T) {
	calls := 0
	getEncoding = func(string) (*tiktoken.Tiktoken, error) {
		calls++
		return nil, errors.New("offline")
	}
	t.Cleanup(func() { getEncoding = tiktoken.GetEncoding })

	text := "draw a circle on the mac"
	require.Equal(t, EstimateFast(text), CountTokens(text))
	require.Equal(t, "short", TruncateToTokens("short", 10))
	require.Zero(t, calls)

	Preload()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.False(t, WaitReady(ctx))
	require.Equal(t, 1, calls)
	require.Equal(t, EstimateFast(text), CountTokens(text))
}
