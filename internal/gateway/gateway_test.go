// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/semblance-ai/gateway/internal/audit"
	"github.com/semblance-ai/gateway/internal/autonomy"
	"github.com/semblance-ai/gateway/internal/config"
	"github.com/semblance-ai/gateway/internal/connector"
	"github.com/semblance-ai/gateway/internal/netguard"
	"github.com/semblance-ai/gateway/internal/protocol"
	"github.com/semblance-ai/gateway/internal/signing"
	"github.com/semblance-ai/gateway/internal/store"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// countingAdapter records how many times it executed. A non-zero delay
// keeps executions in flight long enough for concurrency tests.
type countingAdapter struct {
	id    string
	delay time.Duration
	calls atomic.Int64
}

func (a *countingAdapter) ID() string { return a.id }

func (a *countingAdapter) Execute(ctx context.Context, action connector.Action, payload json.RawMessage) *protocol.Response {
	a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return protocol.OK(map[string]any{"executed": string(action)})
}

func newTestGateway(t *testing.T) (*Gateway, *countingAdapter, *audit.Log) {
	t.Helper()
	keyring.MockInit()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog, err := audit.NewLog(st)
	require.NoError(t, err)

	engine := autonomy.NewEngine(st, logger, autonomy.Config{
		DefaultTier:         autonomy.TierGuardian,
		EscalationThreshold: 5,
		EscalationTTL:       72 * time.Hour,
	})

	adapter := &countingAdapter{id: "pocket"}
	router := connector.NewRouter()
	require.NoError(t, router.Register(adapter))

	gw := New(Deps{
		SigningKey: testKey,
		Store:      st,
		Audit:      auditLog,
		Guard:      netguard.NewMonitor(st, logger, 24*time.Hour),
		Engine:     engine,
		Router:     router,
		Logger:     logger,
		Config:     config.Default(),
	})
	return gw, adapter, auditLog
}

// signedRequest builds one raw request line with a valid signature.
func signedRequest(t *testing.T, id, action string, payload any) []byte {
	t.Helper()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	sig, err := signing.SignRequest(testKey, id, timestamp, action, payload)
	require.NoError(t, err)

	rawPayload, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(&protocol.RequestEnvelope{
		ID:        id,
		Timestamp: timestamp,
		Action:    action,
		Payload:   rawPayload,
		Signature: sig,
	})
	require.NoError(t, err)
	return raw
}

func TestHandleExecutesLowRiskAction(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)

	raw := signedRequest(t, "req-1", "connector.sync", map[string]any{"connector": "pocket"})
	resp, sigFailed := gw.Handle(context.Background(), raw)

	assert.False(t, sigFailed)
	require.True(t, resp.Success)
	assert.Equal(t, int64(1), adapter.calls.Load())
}

func TestHandleRejectsBadSignature(t *testing.T) {
	gw, adapter, auditLog := newTestGateway(t)

	raw := signedRequest(t, "req-1", "connector.sync", map[string]any{"connector": "pocket"})
	var env protocol.RequestEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	env.Signature = "0000000000000000000000000000000000000000000000000000000000000000"
	tampered, err := json.Marshal(&env)
	require.NoError(t, err)

	resp, sigFailed := gw.Handle(context.Background(), tampered)
	assert.True(t, sigFailed)
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeSignatureInvalid, resp.Error.Code)
	assert.Equal(t, int64(0), adapter.calls.Load())

	// The failure itself is a security event on the chain.
	entries, err := auditLog.Tail(context.Background(), 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, audit.StatusError, entries[0].Status)
}

func TestHandleMalformedEnvelope(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	resp, sigFailed := gw.Handle(context.Background(), []byte(`{"id": "x"`))
	assert.True(t, sigFailed)
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeSignatureInvalid, resp.Error.Code)
}

func TestHandleDeduplicatesRetries(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)

	raw := signedRequest(t, "req-dup", "connector.sync", map[string]any{"connector": "pocket"})

	first, _ := gw.Handle(context.Background(), raw)
	require.True(t, first.Success)
	second, _ := gw.Handle(context.Background(), raw)
	require.True(t, second.Success)

	assert.Equal(t, int64(1), adapter.calls.Load(), "retry must replay the cached result, not re-execute")
}

func TestHandleDeduplicatesConcurrentRetries(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)
	adapter.delay = 100 * time.Millisecond

	raw := signedRequest(t, "req-race", "connector.sync", map[string]any{"connector": "pocket"})

	const callers = 4
	results := make(chan *protocol.Response, callers)
	for i := 0; i < callers; i++ {
		go func() {
			resp, _ := gw.Handle(context.Background(), raw)
			results <- resp
		}()
	}

	for i := 0; i < callers; i++ {
		resp := <-results
		require.True(t, resp.Success)
	}
	assert.Equal(t, int64(1), adapter.calls.Load(),
		"a retried id must await the in-flight execution, not run again")
}

func TestHandleUnknownAction(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	raw := signedRequest(t, "req-1", "reticulate_splines", nil)
	resp, sigFailed := gw.Handle(context.Background(), raw)

	assert.False(t, sigFailed)
	require.False(t, resp.Success)
	assert.Equal(t, protocol.CodeUnknownAction, resp.Error.Code)
}

func TestApprovalFlow(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)
	ctx := context.Background()

	// connector.disconnect is medium sensitivity: guardian parks it.
	raw := signedRequest(t, "req-disc", "connector.disconnect", map[string]any{"connector": "pocket"})
	resp, _ := gw.Handle(ctx, raw)
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pending_approval", data["status"])
	assert.Equal(t, int64(0), adapter.calls.Load())

	// Listing shows it.
	listRaw := signedRequest(t, "req-list", "get_pending_actions", nil)
	listResp, _ := gw.Handle(ctx, listRaw)
	require.True(t, listResp.Success)

	// Approving executes the parked envelope.
	approveRaw := signedRequest(t, "req-approve", "approve_action", map[string]any{"actionId": "req-disc"})
	approveResp, _ := gw.Handle(ctx, approveRaw)
	require.True(t, approveResp.Success)
	assert.Equal(t, int64(1), adapter.calls.Load())
}

func TestRejectionFlow(t *testing.T) {
	gw, adapter, auditLog := newTestGateway(t)
	ctx := context.Background()

	raw := signedRequest(t, "req-disc", "connector.disconnect", map[string]any{"connector": "pocket"})
	resp, _ := gw.Handle(ctx, raw)
	require.True(t, resp.Success)

	rejectRaw := signedRequest(t, "req-reject", "reject_action", map[string]any{"actionId": "req-disc"})
	rejectResp, _ := gw.Handle(ctx, rejectRaw)
	require.True(t, rejectResp.Success)
	assert.Equal(t, int64(0), adapter.calls.Load())

	entries, err := auditLog.Tail(ctx, 10, 0)
	require.NoError(t, err)
	var sawRejected bool
	for _, e := range entries {
		if e.Status == audit.StatusRejected {
			sawRejected = true
		}
	}
	assert.True(t, sawRejected, "rejection must land on the audit chain")
}

func TestObserverTierDenies(t *testing.T) {
	gw, adapter, _ := newTestGateway(t)
	ctx := context.Background()

	setRaw := signedRequest(t, "req-tier", "set_autonomy_tier", map[string]any{
		"domain": "pocket", "tier": "observer",
	})
	setResp, _ := gw.Handle(ctx, setRaw)
	require.True(t, setResp.Success)

	raw := signedRequest(t, "req-sync", "connector.sync", map[string]any{"connector": "pocket"})
	resp, _ := gw.Handle(ctx, raw)
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "denied", data["status"])
	assert.Equal(t, int64(0), adapter.calls.Load())
}

func TestAuditQueriesRoundTrip(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	ctx := context.Background()

	syncRaw := signedRequest(t, "req-sync", "connector.sync", map[string]any{"connector": "pocket"})
	_, _ = gw.Handle(ctx, syncRaw)

	logRaw := signedRequest(t, "req-log", "get_action_log", map[string]any{"limit": 10})
	logResp, _ := gw.Handle(ctx, logRaw)
	require.True(t, logResp.Success)

	verifyRaw := signedRequest(t, "req-verify", "verify_audit_chain", nil)
	verifyResp, _ := gw.Handle(ctx, verifyRaw)
	require.True(t, verifyResp.Success)

	result, ok := verifyResp.Data.(audit.VerifyResult)
	require.True(t, ok)
	assert.True(t, result.Intact)
}

func TestTrustStatusAction(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	raw := signedRequest(t, "req-trust", "get_network_trust_status", nil)
	resp, _ := gw.Handle(context.Background(), raw)
	require.True(t, resp.Success)

	status, ok := resp.Data.(netguard.TrustStatus)
	require.True(t, ok)
	assert.True(t, status.Clean)
}
