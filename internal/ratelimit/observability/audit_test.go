package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anyzine/pkg/platform/audit"
	"anyzine/pkg/platform/privacy"
	"anyzine/pkg/requestcontext"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e audit.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func TestLogAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	pub := &recordingPublisher{}
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")

	LogAudit(ctx, logger, pub, audit.ActionRateLimitExceeded,
		KeyIdentity, "sess-raw",
		KeyIdentityKind, "session",
		KeyTier, "anonymous",
		KeyCount, 2,
	)

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, audit.ActionRateLimitExceeded, event.Action)
	assert.Equal(t, privacy.HashIdentifier("sess-raw"), event.IdentityHash)
	assert.Equal(t, "session", event.IdentityKind)
	assert.Equal(t, "anonymous", event.Tier)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, 2, event.Count)

	var logged map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logged))
	assert.Equal(t, "audit", logged["log_type"])
	assert.Equal(t, privacy.HashIdentifier("sess-raw"), logged["identity"])
	assert.NotContains(t, buf.String(), "sess-raw")
}

func TestLogAuditWithoutPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		LogAudit(context.Background(), nil, nil, audit.ActionCleanupCompleted, KeyCount, 4)
	})
}
