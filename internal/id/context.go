package id

import "context"

type contextKey string

const (
	sessionKey contextKey = "iris_session_id"
	requestKey contextKey = "iris_request_id"
	deviceKey  contextKey = "iris_device_id"
)

// WithSessionID stores the provided session identifier on the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionIDFromContext extracts the session identifier from the context.
func SessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionKey)
}

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKey, requestID)
}

// RequestIDFromContext extracts the request identifier from the context.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestKey)
}

// WithDeviceID records which device originated the current turn.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	if deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceKey, deviceID)
}

// DeviceIDFromContext returns the originating device, if any.
func DeviceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, deviceKey)
}

// EnsureRequestID returns ctx carrying a request id, generating one when absent.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if existing := RequestIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	requestID := NewRequestID()
	return WithRequestID(ctx, requestID), requestID
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
