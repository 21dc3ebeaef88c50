package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tillerlabs/tiller/pkg/audit"
	"github.com/tillerlabs/tiller/pkg/constitution"
	"github.com/tillerlabs/tiller/pkg/governance"
	"github.com/tillerlabs/tiller/pkg/maintenance"
	"github.com/tillerlabs/tiller/pkg/mandate"
	"github.com/tillerlabs/tiller/pkg/outcome"
	"github.com/tillerlabs/tiller/pkg/policy"
	"github.com/tillerlabs/tiller/pkg/risk"
	"github.com/tillerlabs/tiller/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads the request body, checks it against the named schema,
// and decodes it into dst. It writes the error response itself and reports
// whether decoding held.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Request body unreadable or larger than 1MB")
		return false
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return false
	}
	if err := s.schemas.validate(schema, doc); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) recordAudit(ctx context.Context, t audit.EventType, action, resource string, meta map[string]any) {
	if err := s.audit.Record(ctx, t, action, resource, meta); err != nil {
		s.logger.Warn("audit record failed", "action", action, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": constitution.Version,
	})
}

type scoreRequest struct {
	Intent  string         `json:"intent"`
	Context map[string]any `json:"context,omitempty"`
}

func (s *Server) handleIntentScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req scoreRequest
	if !s.decodeBody(w, r, "score", &req) {
		return
	}

	assessment := risk.ScoreIntent(req.Intent, req.Context)
	s.recordAudit(r.Context(), audit.EventRisk, "intent.score", req.Intent, map[string]any{
		"score": assessment.Score,
		"level": assessment.Level,
	})
	writeJSON(w, http.StatusOK, assessment)
}

type gateRequest struct {
	Intent      string            `json:"intent"`
	Context     map[string]any    `json:"context,omitempty"`
	Constraints *risk.Constraints `json:"constraints,omitempty"`
}

type gateResponse struct {
	Action      risk.Action          `json:"action"`
	ReasonCode  string               `json:"reason_code"`
	Assessment  risk.Assessment      `json:"assessment"`
	Assumptions risk.AssumptionCheck `json:"assumptions"`
	Policy      *policy.Verdict      `json:"policy,omitempty"`
}

// gateConstraints merges the request constraints onto the profile's. The
// profile sets the ceiling; a request can tighten it, never loosen it.
// Without a profile the request constraints stand on their own.
func (s *Server) gateConstraints(req *risk.Constraints) risk.Constraints {
	if s.profile == nil {
		if req == nil {
			return risk.Constraints{}
		}
		return *req
	}

	out := s.riskBase
	if req == nil {
		return out
	}
	if req.RiskTolerance != nil && (out.RiskTolerance == nil || *req.RiskTolerance < *out.RiskTolerance) {
		out.RiskTolerance = req.RiskTolerance
	}
	out.AllowHighRisk = out.AllowHighRisk && req.AllowHighRisk
	out.Assumptions = req.Assumptions
	return out
}

func (s *Server) handleIntentGate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req gateRequest
	if !s.decodeBody(w, r, "gate", &req) {
		return
	}

	constraints := s.gateConstraints(req.Constraints)
	now := s.clock()

	gate := risk.EvaluateGate(req.Intent, req.Context, constraints)
	resp := gateResponse{
		Action:      gate.Action,
		ReasonCode:  gate.ReasonCode,
		Assessment:  gate.Assessment,
		Assumptions: risk.EvaluateAssumptionsAt(constraints, now),
	}

	switch {
	case gate.Action != risk.ActionAllow:
		// The gate verdict stands.
	case !resp.Assumptions.OK:
		resp.Action = risk.ActionNoop
		resp.ReasonCode = resp.Assumptions.ReasonCode
	case len(s.clauses) > 0:
		verdict := s.evaluator.Evaluate(s.clauses, policy.Input{
			Intent:     req.Intent,
			Context:    req.Context,
			Assessment: gate.Assessment,
			Now:        now,
		})
		resp.Policy = &verdict
		if !verdict.Allowed {
			resp.Action = risk.ActionNoop
			resp.ReasonCode = verdict.Reason
		}
	}

	s.recordAudit(r.Context(), audit.EventRisk, "intent.gate", req.Intent, map[string]any{
		"action":      resp.Action,
		"reason_code": resp.ReasonCode,
		"score":       gate.Assessment.Score,
	})
	writeJSON(w, http.StatusOK, resp)
}

type mandateSignRequest struct {
	Intent       string             `json:"intent"`
	Scope        string             `json:"scope"`
	RiskLevel    risk.Level         `json:"risk_level"`
	MinApprovals int                `json:"min_approvals,omitempty"`
	Rationale    string             `json:"rationale,omitempty"`
	TTLSeconds   int                `json:"ttl_seconds,omitempty"`
	PodID        string             `json:"pod_id,omitempty"`
	Approvals    []mandate.Approval `json:"approvals,omitempty"`
}

// podSecret returns the signing secret, derived per pod when a pod ID is
// given.
func (s *Server) podSecret(podID string) ([]byte, error) {
	if podID == "" {
		return s.secret, nil
	}
	return mandate.DeriveForPod(s.secret, podID)
}

func (s *Server) handleMandateSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if len(s.secret) == 0 {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Mandate signing is not configured")
		return
	}
	var req mandateSignRequest
	if !s.decodeBody(w, r, "mandate_sign", &req) {
		return
	}

	payload := s.issuer.Draft(req.Intent, req.Scope, req.RiskLevel, req.MinApprovals, req.Rationale)
	if req.TTLSeconds > 0 {
		payload.ExpiresAt = payload.IssuedAt.Add(time.Duration(req.TTLSeconds) * time.Second)
	}
	for _, a := range req.Approvals {
		at := a.ApprovedAt
		if at.IsZero() {
			at = s.clock().UTC()
		}
		payload = mandate.Approve(payload, a.ApproverID, a.Role, at)
	}

	secret, err := s.podSecret(req.PodID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	token, err := mandate.Sign(payload, secret)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	s.recordAudit(r.Context(), audit.EventMandate, "mandate.sign", payload.MandateID, map[string]any{
		"intent":        payload.Intent,
		"risk_level":    payload.RiskLevel,
		"min_approvals": payload.MinApprovals,
		"pod_id":        req.PodID,
	})
	writeJSON(w, http.StatusOK, token)
}

type mandateValidateRequest struct {
	Token          mandate.Token `json:"token"`
	ExpectedIntent string        `json:"expected_intent"`
	MinApprovals   int           `json:"min_approvals,omitempty"`
	MinRiskLevel   risk.Level    `json:"min_risk_level,omitempty"`
	PodID          string        `json:"pod_id,omitempty"`
}

func (s *Server) handleMandateValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if len(s.secret) == 0 {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Mandate validation is not configured")
		return
	}
	var req mandateValidateRequest
	if !s.decodeBody(w, r, "mandate_validate", &req) {
		return
	}

	opts := mandate.Options{
		ExpectedIntent: req.ExpectedIntent,
		MinApprovals:   req.MinApprovals,
		MinRiskLevel:   req.MinRiskLevel,
	}
	// Profile floors bind every caller; a request can only raise them.
	if s.profile != nil {
		if s.profile.Mandates.MinApprovals > opts.MinApprovals {
			opts.MinApprovals = s.profile.Mandates.MinApprovals
		}
		if opts.MinRiskLevel.Ordinal() < s.profile.Mandates.MinRiskLevel.Ordinal() {
			opts.MinRiskLevel = s.profile.Mandates.MinRiskLevel
		}
	}

	secret, err := s.podSecret(req.PodID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	opts.Secret = secret

	result := mandate.ValidateAt(req.Token, opts, s.clock())
	s.recordAudit(r.Context(), audit.EventMandate, "mandate.validate", req.Token.Payload.MandateID, map[string]any{
		"ok":   result.OK,
		"code": result.Code,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listDecisions(w, r)
	case http.MethodPost:
		s.appendDecision(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

// casRetries bounds optimistic append retries on a contended ledger.
const casRetries = 3

type decisionResponse struct {
	Decision governance.Decision `json:"decision"`
	Mode     governance.Mode     `json:"mode"`
}

func (s *Server) appendDecision(w http.ResponseWriter, r *http.Request) {
	var in governance.DecisionInput
	if !s.decodeBody(w, r, "decision", &in) {
		return
	}
	// The ledger stamps its own clock.
	in.RecordedAt = time.Time{}

	ctx := r.Context()
	for attempt := 0; attempt < casRetries; attempt++ {
		state, version, err := s.store.LoadState(ctx)
		if err != nil {
			WriteInternal(w, err)
			return
		}

		next, decision, err := governance.Append(state, in)
		switch {
		case errors.Is(err, governance.ErrInvariantViolation),
			errors.Is(err, governance.ErrHumanApprovalRequired):
			WriteUnprocessable(w, err.Error())
			return
		case err != nil:
			WriteInternal(w, err)
			return
		}

		if _, err := s.store.SaveState(ctx, next, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			WriteInternal(w, err)
			return
		}

		s.recordAudit(ctx, audit.EventDecision, "decision.append", decision.DecisionID, map[string]any{
			"scope":    decision.Scope,
			"pod_id":   decision.PodID,
			"sequence": decision.Sequence,
		})
		writeJSON(w, http.StatusCreated, decisionResponse{Decision: decision, Mode: next.Mode()})
		return
	}
	WriteConflict(w, "Ledger version moved during append, retry the request")
}

type decisionListResponse struct {
	Decisions []governance.Decision `json:"decisions"`
	Version   uint64                `json:"version"`
	Mode      governance.Mode       `json:"mode"`
	Head      string                `json:"head"`
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	state, version, err := s.store.LoadState(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	decisions := state.Decisions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		if n < len(decisions) {
			decisions = decisions[len(decisions)-n:]
		}
	}
	if decisions == nil {
		decisions = []governance.Decision{}
	}

	writeJSON(w, http.StatusOK, decisionListResponse{
		Decisions: decisions,
		Version:   version,
		Mode:      state.Mode(),
		Head:      state.Head(),
	})
}

func (s *Server) handleGovernanceMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	state, _, err := s.store.LoadState(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, governance.Evaluate(state.Decisions))
}

type normalizeRequest struct {
	Outcome         any    `json:"outcome"`
	FallbackSummary string `json:"fallback_summary,omitempty"`
}

func (s *Server) handleOutcomeNormalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req normalizeRequest
	if !s.decodeBody(w, r, "outcome", &req) {
		return
	}
	writeJSON(w, http.StatusOK, outcome.Ensure(req.Outcome, req.FallbackSummary))
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var in maintenance.Input
	if !s.decodeBody(w, r, "preflight", &in) {
		return
	}
	if in.Timestamp == "" {
		in.Timestamp = s.clock().UTC().Format(time.RFC3339)
	}

	report := maintenance.BuildReport(in)

	ctx := r.Context()
	history, err := s.store.LoadReports(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	history = maintenance.AppendReport(history, report, s.reportCap)
	if err := s.store.SaveReports(ctx, history); err != nil {
		WriteInternal(w, err)
		return
	}

	s.recordAudit(ctx, audit.EventMaintenance, "maintenance.preflight", in.FeatureName, map[string]any{
		"status": report.Status,
	})
	writeJSON(w, http.StatusOK, report)
}

type driftResponse struct {
	maintenance.Drift
	Counters maintenance.Counters `json:"counters"`
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	ctx := r.Context()
	state, _, err := s.store.LoadState(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	reports, err := s.store.LoadReports(ctx)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	counters := maintenance.DeriveCounters(state.Decisions, reports)
	writeJSON(w, http.StatusOK, driftResponse{
		Drift:    maintenance.ComputeDriftScore(counters),
		Counters: counters,
	})
}
