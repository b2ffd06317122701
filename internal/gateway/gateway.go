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

// Package gateway is the trust boundary's dispatcher: every request is
// verified, deduplicated, authorized, routed, and audited in that order.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/semblance-ai/gateway/internal/audit"
	"github.com/semblance-ai/gateway/internal/autonomy"
	"github.com/semblance-ai/gateway/internal/config"
	"github.com/semblance-ai/gateway/internal/connector"
	"github.com/semblance-ai/gateway/internal/netguard"
	"github.com/semblance-ai/gateway/internal/protocol"
	"github.com/semblance-ai/gateway/internal/signing"
	"github.com/semblance-ai/gateway/internal/store"
)

// Gateway wires the verification, authorization, routing and audit stages
// together. One instance serves all connections.
type Gateway struct {
	signingKey []byte
	store      *store.Store
	audit      *audit.Log
	guard      *netguard.Monitor
	engine     *autonomy.Engine
	router     *connector.Router
	logger     *slog.Logger

	mu  sync.RWMutex
	cfg *config.Config

	// flights holds requests currently executing, keyed by envelope id, so
	// a client retry of an in-flight id awaits the first execution instead
	// of running the action twice.
	flightMu sync.Mutex
	flights  map[string]*flight
}

// flight is one in-progress execution. done is closed once resp is set.
type flight struct {
	done chan struct{}
	resp *protocol.Response
}

// Deps carries the gateway's collaborators.
type Deps struct {
	SigningKey []byte
	Store      *store.Store
	Audit      *audit.Log
	Guard      *netguard.Monitor
	Engine     *autonomy.Engine
	Router     *connector.Router
	Logger     *slog.Logger
	Config     *config.Config
}

// New builds the dispatcher.
func New(deps Deps) *Gateway {
	return &Gateway{
		signingKey: deps.SigningKey,
		store:      deps.Store,
		audit:      deps.Audit,
		guard:      deps.Guard,
		engine:     deps.Engine,
		router:     deps.Router,
		logger:     deps.Logger,
		cfg:        deps.Config,
		flights:    make(map[string]*flight),
	}
}

// ApplyConfig installs a reloaded configuration. The autonomy engine picks
// up new thresholds; the listener's socket path never changes at runtime.
func (g *Gateway) ApplyConfig(cfg *config.Config) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()

	tier, err := autonomy.ParseTier(cfg.Autonomy.DefaultTier)
	if err != nil {
		tier = autonomy.TierGuardian
	}
	g.engine.SetConfig(autonomy.Config{
		DefaultTier:         tier,
		EscalationThreshold: cfg.Autonomy.EscalationThreshold,
		EscalationTTL:       cfg.Autonomy.EscalationTTL,
	})
	g.logger.Info("configuration reloaded")
}

func (g *Gateway) config() *config.Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Handle processes one raw request line and returns the response, along
// with whether the request failed signature verification. The transport
// uses the second return to throttle unauthenticated callers.
func (g *Gateway) Handle(ctx context.Context, raw []byte) (*protocol.Response, bool) {
	var env protocol.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return protocol.Fail(protocol.CodeSignatureInvalid, "malformed request envelope"), true
	}
	if err := env.Validate(); err != nil {
		return protocol.Fail(protocol.CodeSignatureInvalid, "invalid request envelope: %v", err), true
	}

	payload, err := env.DecodedPayload()
	if err != nil {
		return protocol.Fail(protocol.CodeSignatureInvalid, "invalid request payload: %v", err), true
	}

	if !signing.VerifySignature(g.signingKey, env.Signature, env.ID, env.Timestamp, env.Action, payload) {
		g.auditOutcome(ctx, &env, audit.StatusError, "signature verification failed", "")
		g.logger.Warn("rejected request with invalid signature", "request_id", env.ID, "action", env.Action)
		return protocol.Fail(protocol.CodeSignatureInvalid, "signature verification failed"), true
	}

	if cached, ok := g.lookupResult(ctx, env.ID); ok {
		g.logger.Debug("replayed cached result", "request_id", env.ID)
		return cached, false
	}

	fl, leader := g.reserve(env.ID)
	if !leader {
		// Another connection is executing this id right now. Await it.
		select {
		case <-fl.done:
			return fl.resp, false
		case <-ctx.Done():
			return protocol.Fail(protocol.CodeUnknownAction, "request %s cancelled while awaiting duplicate", env.ID), false
		}
	}

	resp := g.route(ctx, &env)
	g.storeResult(ctx, env.ID, resp)
	g.finish(env.ID, fl, resp)
	return resp, false
}

// reserve claims an envelope id for execution. The second return is false
// when another caller already holds the id; the returned flight is then
// theirs to await.
func (g *Gateway) reserve(requestID string) (*flight, bool) {
	g.flightMu.Lock()
	defer g.flightMu.Unlock()
	if fl, ok := g.flights[requestID]; ok {
		return fl, false
	}
	fl := &flight{done: make(chan struct{})}
	g.flights[requestID] = fl
	return fl, true
}

// finish publishes the result to any waiting duplicates and releases the id.
// The result is already persisted, so late retries replay it from the store.
func (g *Gateway) finish(requestID string, fl *flight, resp *protocol.Response) {
	fl.resp = resp
	close(fl.done)
	g.flightMu.Lock()
	delete(g.flights, requestID)
	g.flightMu.Unlock()
}

// route dispatches a verified, novel request.
func (g *Gateway) route(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	if connector.IsConnectorAction(env.Action) {
		return g.routeConnector(ctx, env)
	}

	switch env.Action {
	case "approve_action":
		return g.approveAction(ctx, env)
	case "reject_action":
		return g.rejectAction(ctx, env)
	case "get_pending_actions":
		return g.getPendingActions(ctx)
	case "respond_to_escalation":
		return g.respondToEscalation(ctx, env)
	case "get_active_escalations", "check_escalations":
		return g.getActiveEscalations(ctx)
	case "get_network_trust_status":
		return g.getTrustStatus(ctx)
	case "get_network_allowlist":
		return g.getAllowlist(ctx)
	case "get_unauthorized_attempts":
		return g.getUnauthorizedAttempts(ctx, env)
	case "get_connection_history":
		return g.getConnectionHistory(ctx, env)
	case "get_action_log":
		return g.getActionLog(ctx, env)
	case "verify_audit_chain":
		return g.verifyAuditChain(ctx)
	case "get_autonomy_config":
		return g.getAutonomyConfig(ctx)
	case "set_autonomy_tier":
		return g.setAutonomyTier(ctx, env)
	default:
		return protocol.Fail(protocol.CodeUnknownAction, "unknown action %q", env.Action)
	}
}

// routeConnector applies the autonomy decision before any adapter runs.
// auth_status is a local read of the token store and bypasses the engine.
func (g *Gateway) routeConnector(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	domain, sensitivity := classify(env)

	if connector.Action(env.Action) == connector.ActionAuthStatus {
		return g.execute(ctx, env)
	}

	decision, tier, err := g.engine.Authorize(ctx, domain, sensitivity)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "authorization failed: %v", err)
	}

	switch decision {
	case autonomy.DecisionDeny:
		g.auditOutcome(ctx, env, audit.StatusRejected, "denied by autonomy tier", string(tier))
		return protocol.OK(map[string]any{
			"status": "denied",
			"tier":   string(tier),
			"reason": fmt.Sprintf("domain %q is at tier %s, which does not execute", domain, tier),
		})
	case autonomy.DecisionRequireApproval:
		raw, err := json.Marshal(env)
		if err != nil {
			return protocol.Fail(protocol.CodeUnknownAction, "parking request: %v", err)
		}
		reasoning := fmt.Sprintf("%s on %s requires approval at tier %s", env.Action, domain, tier)
		if err := g.engine.CreatePending(ctx, env.ID, raw, reasoning, domain, env.Action); err != nil {
			return protocol.Fail(protocol.CodeUnknownAction, "parking request: %v", err)
		}
		g.auditOutcome(ctx, env, audit.StatusPending, reasoning, string(tier))
		return protocol.OK(map[string]any{"status": "pending_approval", "actionId": env.ID})
	default:
		resp := g.execute(ctx, env)
		g.auditExecution(ctx, env, resp, string(tier))
		return resp
	}
}

// execute runs one adapter action under the configured timeout.
func (g *Gateway) execute(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	timeout := g.config().Connectors.Timeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.router.Dispatch(ctx, env.Action, env.Payload)
}

// classify maps a connector request onto the autonomy matrix. The domain is
// the connector itself; sensitivity follows the action's blast radius.
func classify(env *protocol.RequestEnvelope) (string, autonomy.Sensitivity) {
	domain := "connectors"
	var target struct {
		Connector string `json:"connector"`
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &target); err == nil && target.Connector != "" {
			domain = target.Connector
		}
	}

	switch connector.Action(env.Action) {
	case connector.ActionAuth:
		return domain, autonomy.SensitivityHigh
	case connector.ActionDisconnect:
		return domain, autonomy.SensitivityMedium
	default:
		return domain, autonomy.SensitivityLow
	}
}

// approveAction resolves a parked request, executes it, and feeds the
// approval into the escalation counter.
func (g *Gateway) approveAction(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		ActionID string `json:"actionId"`
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.ActionID == "" {
		return protocol.Fail(protocol.CodeUnknownAction, "approve_action payload names no actionId")
	}

	pending, err := g.engine.ResolvePending(ctx, req.ActionID, true)
	if err != nil {
		if errors.Is(err, autonomy.ErrPendingNotFound) {
			return protocol.Fail(protocol.CodeUnknownAction, "no pending action %q", req.ActionID)
		}
		return protocol.Fail(protocol.CodeUnknownAction, "resolving pending action: %v", err)
	}

	var parked protocol.RequestEnvelope
	if err := json.Unmarshal(pending.Envelope, &parked); err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "parked envelope unreadable: %v", err)
	}

	resp := g.execute(ctx, &parked)
	g.auditExecution(ctx, &parked, resp, "")

	prompt, err := g.engine.RecordApproval(ctx, pending.Domain, pending.ActionType)
	if err != nil {
		g.logger.Warn("recording approval failed", "domain", pending.Domain, "error", err)
	}

	data := map[string]any{"actionId": req.ActionID, "result": resp}
	if prompt != nil {
		data["escalation"] = prompt
	}
	return protocol.OK(data)
}

// rejectAction discards a parked request and resets the approval streak.
func (g *Gateway) rejectAction(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		ActionID string `json:"actionId"`
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.ActionID == "" {
		return protocol.Fail(protocol.CodeUnknownAction, "reject_action payload names no actionId")
	}

	pending, err := g.engine.ResolvePending(ctx, req.ActionID, false)
	if err != nil {
		if errors.Is(err, autonomy.ErrPendingNotFound) {
			return protocol.Fail(protocol.CodeUnknownAction, "no pending action %q", req.ActionID)
		}
		return protocol.Fail(protocol.CodeUnknownAction, "resolving pending action: %v", err)
	}

	if err := g.engine.RecordRejection(ctx, pending.Domain, pending.ActionType); err != nil {
		g.logger.Warn("recording rejection failed", "domain", pending.Domain, "error", err)
	}

	var parked protocol.RequestEnvelope
	if err := json.Unmarshal(pending.Envelope, &parked); err == nil {
		g.auditOutcome(ctx, &parked, audit.StatusRejected, "rejected by user", "")
	}

	return protocol.OK(map[string]any{"actionId": req.ActionID, "status": "rejected"})
}

func (g *Gateway) getPendingActions(ctx context.Context) *protocol.Response {
	pending, err := g.engine.ListPending(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "listing pending actions: %v", err)
	}
	return protocol.OK(map[string]any{"actions": pending})
}

func (g *Gateway) respondToEscalation(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		PromptID string `json:"promptId"`
		Accepted bool   `json:"accepted"`
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.PromptID == "" {
		return protocol.Fail(protocol.CodeUnknownAction, "respond_to_escalation payload names no promptId")
	}

	if err := g.engine.RespondToEscalation(ctx, req.PromptID, req.Accepted); err != nil {
		switch {
		case errors.Is(err, autonomy.ErrPromptNotFound):
			return protocol.Fail(protocol.CodeUnknownAction, "no escalation prompt %q", req.PromptID)
		case errors.Is(err, autonomy.ErrPromptExpired):
			return protocol.Fail(protocol.CodeUnknownAction, "escalation prompt %q has expired", req.PromptID)
		default:
			return protocol.Fail(protocol.CodeUnknownAction, "responding to escalation: %v", err)
		}
	}

	g.auditEvent(ctx, "respond_to_escalation",
		fmt.Sprintf("escalation %s %s", req.PromptID, map[bool]string{true: "accepted", false: "dismissed"}[req.Accepted]))
	return protocol.OK(map[string]any{"promptId": req.PromptID, "accepted": req.Accepted})
}

func (g *Gateway) getActiveEscalations(ctx context.Context) *protocol.Response {
	prompts, err := g.engine.ActivePrompts(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "listing escalations: %v", err)
	}
	return protocol.OK(map[string]any{"prompts": prompts})
}

func (g *Gateway) getTrustStatus(ctx context.Context) *protocol.Response {
	status, err := g.guard.Status(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "reading trust status: %v", err)
	}
	return protocol.OK(status)
}

func (g *Gateway) getAllowlist(ctx context.Context) *protocol.Response {
	entries, err := g.guard.Allowlist(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "reading allowlist: %v", err)
	}
	return protocol.OK(map[string]any{"allowlist": entries})
}

func (g *Gateway) getUnauthorizedAttempts(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		SinceHours int `json:"sinceHours"`
	}
	_ = json.Unmarshal(env.Payload, &req)
	if req.SinceHours <= 0 {
		req.SinceHours = 24
	}
	attempts, err := g.guard.UnauthorizedAttempts(ctx, time.Now().Add(-time.Duration(req.SinceHours)*time.Hour))
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "reading unauthorized attempts: %v", err)
	}
	return protocol.OK(map[string]any{"attempts": attempts})
}

func (g *Gateway) getConnectionHistory(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(env.Payload, &req)
	if req.Limit <= 0 {
		req.Limit = 100
	}
	history, err := g.guard.History(ctx, req.Limit)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "reading connection history: %v", err)
	}
	return protocol.OK(map[string]any{"history": history})
}

func (g *Gateway) getActionLog(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	_ = json.Unmarshal(env.Payload, &req)
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}

	entries, err := g.audit.Tail(ctx, req.Limit, req.Offset)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "reading audit log: %v", err)
	}
	total, err := g.audit.Count(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "counting audit log: %v", err)
	}
	return protocol.OK(map[string]any{"entries": entries, "total": total})
}

func (g *Gateway) verifyAuditChain(ctx context.Context) *protocol.Response {
	result, err := g.audit.Verify(ctx)
	if err != nil && !errors.Is(err, audit.ErrChainBroken) {
		return protocol.Fail(protocol.CodeUnknownAction, "verifying audit chain: %v", err)
	}
	return protocol.OK(result)
}

func (g *Gateway) getAutonomyConfig(ctx context.Context) *protocol.Response {
	tiers, err := g.engine.Tiers(ctx)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "reading autonomy config: %v", err)
	}
	cfg := g.config()
	return protocol.OK(map[string]any{
		"defaultTier":         cfg.Autonomy.DefaultTier,
		"escalationThreshold": cfg.Autonomy.EscalationThreshold,
		"tiers":               tiers,
	})
}

// setAutonomyTier is the explicit user override, distinct from escalation
// acceptance. It is audited like any other state change.
func (g *Gateway) setAutonomyTier(ctx context.Context, env *protocol.RequestEnvelope) *protocol.Response {
	var req struct {
		Domain string `json:"domain"`
		Tier   string `json:"tier"`
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil || req.Domain == "" {
		return protocol.Fail(protocol.CodeUnknownAction, "set_autonomy_tier payload names no domain")
	}
	tier, err := autonomy.ParseTier(req.Tier)
	if err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "%v", err)
	}
	if err := g.engine.SetTier(ctx, req.Domain, tier); err != nil {
		return protocol.Fail(protocol.CodeUnknownAction, "setting tier: %v", err)
	}
	g.auditEvent(ctx, "set_autonomy_tier", fmt.Sprintf("domain %s set to tier %s", req.Domain, tier))
	return protocol.OK(map[string]any{"domain": req.Domain, "tier": string(tier)})
}

// auditExecution appends the outcome of an executed request.
func (g *Gateway) auditExecution(ctx context.Context, env *protocol.RequestEnvelope, resp *protocol.Response, tier string) {
	status := audit.StatusSuccess
	desc := fmt.Sprintf("%s completed", env.Action)
	if !resp.Success {
		status = audit.StatusError
		if resp.Error != nil {
			desc = fmt.Sprintf("%s failed: %s", env.Action, resp.Error.Message)
		}
	}
	g.auditOutcome(ctx, env, status, desc, tier)
}

// auditOutcome appends one chain entry for a request envelope. Audit
// failures are logged, never surfaced to the caller.
func (g *Gateway) auditOutcome(ctx context.Context, env *protocol.RequestEnvelope, status audit.Status, desc, tier string) {
	hash := ""
	if payload, err := env.DecodedPayload(); err == nil {
		if h, err := signing.PayloadHash(payload); err == nil {
			hash = h
		}
	}
	_, err := g.audit.Append(ctx, audit.Entry{
		ID:           env.ID,
		Action:       env.Action,
		Status:       status,
		Description:  desc,
		AutonomyTier: tier,
		PayloadHash:  hash,
	})
	if err != nil {
		g.logger.Error("audit append failed", "request_id", env.ID, "error", err)
	}
}

// auditEvent appends a gateway-internal event not tied to a parked request.
func (g *Gateway) auditEvent(ctx context.Context, action, desc string) {
	hash, _ := signing.PayloadHash(map[string]any{})
	_, err := g.audit.Append(ctx, audit.Entry{
		ID:          fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		Action:      action,
		Status:      audit.StatusSuccess,
		Description: desc,
		PayloadHash: hash,
	})
	if err != nil {
		g.logger.Error("audit append failed", "action", action, "error", err)
	}
}

// lookupResult replays a completed result inside the dedupe window.
func (g *Gateway) lookupResult(ctx context.Context, requestID string) (*protocol.Response, bool) {
	window := g.config().Listen.DedupeWindow
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339Nano)

	var result string
	err := g.store.DB().QueryRowContext(ctx,
		`SELECT result FROM request_results WHERE request_id = ? AND completed_at >= ?`,
		requestID, cutoff,
	).Scan(&result)
	if err != nil {
		return nil, false
	}

	var resp protocol.Response
	if err := json.Unmarshal([]byte(result), &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// storeResult records a completed result for the dedupe window and prunes
// expired rows opportunistically.
func (g *Gateway) storeResult(ctx context.Context, requestID string, resp *protocol.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	_, err = g.store.DB().ExecContext(ctx,
		`INSERT INTO request_results (request_id, result, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		requestID, string(raw), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		g.logger.Warn("storing request result failed", "request_id", requestID, "error", err)
		return
	}

	window := g.config().Listen.DedupeWindow
	cutoff := now.Add(-2 * window).Format(time.RFC3339Nano)
	if _, err := g.store.DB().ExecContext(ctx,
		`DELETE FROM request_results WHERE completed_at < ?`, cutoff); err != nil {
		g.logger.Warn("pruning request results failed", "error", err)
	}
}
