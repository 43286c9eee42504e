package id

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "s1")
	ctx = WithRequestID(ctx, "r1")
	ctx = WithDeviceID(ctx, "d1")

	require.Equal(t, "s1", SessionIDFromContext(ctx))
	require.Equal(t, "r1", RequestIDFromContext(ctx))
	require.Equal(t, "d1", DeviceIDFromContext(ctx))
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	ctx := WithSessionID(context.Background(), "")
	require.Equal(t, "", SessionIDFromContext(ctx))
	require.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck
}

func TestEnsureRequestID(t *testing.T) {
	ctx, requestID := EnsureRequestID(context.Background())
	require.True(t, strings.HasPrefix(requestID, "req-"))
	require.Equal(t, requestID, RequestIDFromContext(ctx))

	_, again := EnsureRequestID(ctx)
	require.Equal(t, requestID, again)
}

func TestIdentifiersAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		v := NewMessageID()
		require.True(t, strings.HasPrefix(v, "msg-"))
		require.False(t, seen[v])
		seen[v] = true
	}
}
