package ids

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID returns a prefixed, time-ordered session identifier.
func NewSessionID() string {
	return "session-" + newBody()
}

// NewRequestID returns a prefixed request identifier.
func NewRequestID() string {
	return "req-" + newBody()
}

// NewImageID returns a 32-character lowercase hex id. Image ids end up in file
// names and URLs, so they never contain separators.
func NewImageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsImageID reports whether s has the shape produced by NewImageID.
func IsImageID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func newBody() string {
	if v7, err := uuid.NewV7(); err == nil {
		return v7.String()
	}
	return uuid.NewString()
}

// IDs carries the correlation identifiers of one request.
type IDs struct {
	RequestID string
	SessionID string
	UserID    string
}

type idsKey struct{}

// WithIDs stores ids on the context, merging with ids already present.
func WithIDs(ctx context.Context, ids IDs) context.Context {
	current := FromContext(ctx)
	if ids.RequestID == "" {
		ids.RequestID = current.RequestID
	}
	if ids.SessionID == "" {
		ids.SessionID = current.SessionID
	}
	if ids.UserID == "" {
		ids.UserID = current.UserID
	}
	return context.WithValue(ctx, idsKey{}, ids)
}

// FromContext returns the ids stored on ctx, or the zero value.
func FromContext(ctx context.Context) IDs {
	if ctx == nil {
		return IDs{}
	}
	if v, ok := ctx.Value(idsKey{}).(IDs); ok {
		return v
	}
	return IDs{}
}
