// Package service is the operation façade: every runtime operation
// enters here and runs the same pipeline — resolve auth, rate limit,
// idempotency lookup, schema validation, scope authorization, handler
// under the store writer, idempotency commit, respond.
//
// Handlers never write around the store: mutating operations run inside
// a store transaction, so a failing step leaves no partial writes.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/loopworks/rotor/pkg/auth"
	"github.com/loopworks/rotor/pkg/config"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/delegation"
	"github.com/loopworks/rotor/pkg/export"
	"github.com/loopworks/rotor/pkg/idempotency"
	"github.com/loopworks/rotor/pkg/limiter"
	"github.com/loopworks/rotor/pkg/matching"
	"github.com/loopworks/rotor/pkg/observability"
	"github.com/loopworks/rotor/pkg/outbox"
	"github.com/loopworks/rotor/pkg/partner"
	"github.com/loopworks/rotor/pkg/settlement"
	"github.com/loopworks/rotor/pkg/store"
	"github.com/loopworks/rotor/pkg/vault"
)

// Request is one operation invocation as the transport hands it over.
type Request struct {
	Operation       string             `json:"operation"`
	Actor           contracts.ActorRef `json:"actor"`
	Scopes          []string           `json:"scopes,omitempty"`
	DelegationToken string             `json:"delegation_token,omitempty"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
	Body            map[string]any     `json:"body,omitempty"`
}

// Service orchestrates the core components behind the operation registry.
type Service struct {
	store      store.Store
	keys       *crypto.KeySet
	resolver   *auth.Resolver
	authority  *delegation.Authority
	ledger     *vault.Ledger
	settlement *settlement.Engine
	outbox     *outbox.Outbox
	matcher    *matching.Harness
	exporter   *export.Engine
	partners   *partner.Service
	limit      limiter.Limiter
	obs        *observability.Provider
	registry   *Registry
	now        func() time.Time
	log        *slog.Logger
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithMatcher replaces the default matcher harness.
func WithMatcher(h *matching.Harness) Option {
	return func(s *Service) { s.matcher = h }
}

// WithLimiter installs per-actor backpressure. Nil means unlimited.
func WithLimiter(l limiter.Limiter) Option {
	return func(s *Service) { s.limit = l }
}

// WithObservability installs the tracing/metrics provider.
func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

// WithExporter replaces the default export engine, e.g. to attach an
// archive sink.
func WithExporter(e *export.Engine) Option {
	return func(s *Service) { s.exporter = e }
}

// New assembles a service over an opened store and key set.
func New(st store.Store, keys *crypto.KeySet, opts ...Option) (*Service, error) {
	constraints, err := delegation.NewConstraintEvaluator()
	if err != nil {
		return nil, err
	}
	authority := delegation.NewAuthority(keys)
	ob := outbox.New(keys)
	ledger := vault.NewLedger()

	s := &Service{
		store:      st,
		keys:       keys,
		resolver:   auth.NewResolver(authority, constraints),
		authority:  authority,
		ledger:     ledger,
		settlement: settlement.NewEngine(keys, ledger, ob),
		outbox:     ob,
		exporter:   export.NewEngine(keys),
		partners:   partner.NewService(),
		now:        time.Now,
		log:        slog.Default().With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.matcher == nil {
		profile, err := config.MatchingProfileFromEnv()
		if err != nil {
			return nil, err
		}
		s.matcher = matching.NewHarness(matching.NewEngine(*profile), nil, defaultShadowRing)
	}
	s.registry = buildRegistry(s)
	return s, nil
}

// defaultShadowRing bounds retained shadow parity records.
const defaultShadowRing = 64

// WithClock overrides the clock of the service and every time-bearing
// collaborator. Useful in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.settlement.WithClock(now)
	s.outbox.WithClock(now)
	s.ledger.WithClock(now)
	s.exporter.WithClock(now)
	s.partners.WithClock(now)
	s.authority.WithClock(now)
	if s.matcher != nil {
		s.matcher.WithClock(now)
	}
	return s
}

// Keys exposes the signing key set, e.g. for offline verification.
func (s *Service) Keys() *crypto.KeySet { return s.keys }

// Store exposes the backing store, e.g. for restart tests.
func (s *Service) Store() store.Store { return s.store }

// errRollback aborts a store transaction whose operation failed; the
// captured result is returned and no write persists.
var errRollback = errors.New("service: operation failed, rolling back")

// Execute runs one operation end to end and returns its envelope.
func (s *Service) Execute(ctx context.Context, req Request) contracts.Result {
	op, ok := s.registry.Get(req.Operation)
	if !ok {
		return contracts.ErrResult(contracts.Errorf(contracts.CodeNotFound, "unknown operation %q", req.Operation))
	}
	ctx, end := s.obs.StartOperation(ctx, req.Operation, req.Actor.Fingerprint())

	result := s.dispatch(ctx, req, op)
	end(result.ErrorCode())
	if !result.OK {
		s.log.Warn("operation failed", "operation", req.Operation,
			"actor", req.Actor.Fingerprint(), "code", result.ErrorCode())
	}
	return result
}

func (s *Service) dispatch(ctx context.Context, req Request, op *OpSpec) contracts.Result {
	if s.limit != nil {
		allowed, err := s.limit.Allow(ctx, req.Actor.Fingerprint())
		if err != nil {
			// A broken limiter fails open rather than blocking traffic.
			s.log.Warn("limiter unavailable", "error", err.Error())
		} else if !allowed {
			return contracts.ErrResult(contracts.NewError(contracts.CodeRateLimited, "request rate exceeded"))
		}
	}

	var result contracts.Result
	if op.Mutating {
		err := s.store.Update(ctx, func(st *store.State) error {
			result = s.runOp(ctx, st, req, op)
			if !result.OK {
				return errRollback
			}
			return nil
		})
		if err != nil && !errors.Is(err, errRollback) {
			return contracts.ErrResult(contracts.Errorf(contracts.CodeInternal, "persist operation: %v", err))
		}
		return result
	}

	err := s.store.View(func(st *store.State) error {
		result = s.runOp(ctx, st, req, op)
		return nil
	})
	if err != nil {
		return contracts.ErrResult(contracts.AsError(err))
	}
	return result
}

// runOp is the per-operation pipeline, executed with the state in hand.
func (s *Service) runOp(ctx context.Context, st *store.State, req Request, op *OpSpec) contracts.Result {
	now := s.now().UTC()
	policy := auth.PolicyFromEnv()

	authCtx, err := s.resolver.Resolve(st, auth.Credentials{
		Actor:           req.Actor,
		Scopes:          req.Scopes,
		DelegationToken: req.DelegationToken,
	}, now)
	if err != nil {
		return contracts.ErrResult(contracts.AsError(err))
	}

	body, err := normalizeBody(req.Body)
	if err != nil {
		return contracts.ErrResult(contracts.Errorf(contracts.CodeValidation, "body not serializable: %v", err))
	}

	var scopeKey, payloadHash string
	if op.Mutating && req.IdempotencyKey != "" {
		scopeKey = idempotency.ScopeKey(op.ID, req.IdempotencyKey, authCtx.Actor)
		payloadHash, err = idempotency.PayloadHash(body)
		if err != nil {
			return contracts.ErrResult(contracts.Errorf(contracts.CodeValidation, "body not hashable: %v", err))
		}
		switch check := idempotency.Evaluate(st, scopeKey, payloadHash); check.Disposition {
		case idempotency.Replay:
			return check.Stored
		case idempotency.Conflict:
			return contracts.ErrResult(idempotency.ConflictError(scopeKey))
		}
	}

	if err := op.Validate(body); err != nil {
		return contracts.ErrResult(contracts.AsError(err))
	}
	if err := s.resolver.Authorize(authCtx, policy, op.ID, op.RequiredScopes, "", nil); err != nil {
		return contracts.ErrResult(contracts.AsError(err))
	}

	octx := &opContext{
		ctx:    ctx,
		svc:    s,
		st:     st,
		auth:   authCtx,
		policy: policy,
		op:     op,
		body:   body,
		now:    now,
	}
	responseBody, err := op.Handler(octx)
	if err != nil {
		return contracts.ErrResult(contracts.AsError(err))
	}

	result := contracts.OkResult(responseBody)
	if scopeKey != "" {
		idempotency.Commit(st, scopeKey, payloadHash, result, now)
	}
	return result
}

// opContext carries one operation's resolved inputs into its handler.
type opContext struct {
	ctx    context.Context
	svc    *Service
	st     *store.State
	auth   *contracts.AuthContext
	policy auth.Policy
	op     *OpSpec
	body   map[string]any
	now    time.Time
}

// bind decodes the request body into a typed parameter struct.
func (o *opContext) bind(dst any) error {
	raw, err := json.Marshal(o.body)
	if err != nil {
		return contracts.Errorf(contracts.CodeValidation, "bind body: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return contracts.Errorf(contracts.CodeValidation, "bind body: %v", err)
	}
	return nil
}

// authorizeResource applies the per-resource tenancy check on top of the
// pipeline's scope gate.
func (o *opContext) authorizeResource(resourcePartner string, resource map[string]any) error {
	return o.svc.resolver.Authorize(o.auth, o.policy, o.op.ID, nil, resourcePartner, resource)
}

// tenant scopes list and export views: partner-tenanted callers see
// their own slice, everyone else sees the unscoped view.
func (o *opContext) tenant() string {
	if o.auth.Elevated() && !o.auth.Delegated() {
		return ""
	}
	if o.auth.HasScope(contracts.ScopeAdmin) {
		return ""
	}
	return o.auth.PartnerTenant
}

// asBody converts a typed response value into the map form the result
// envelope carries.
func asBody(key string, v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, contracts.Errorf(contracts.CodeInternal, "encode response: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, contracts.Errorf(contracts.CodeInternal, "encode response: %v", err)
	}
	return map[string]any{key: decoded}, nil
}

// normalizeBody round-trips the body through JSON so handler and schema
// views agree on value types regardless of how the transport decoded it.
func normalizeBody(body map[string]any) (map[string]any, error) {
	if body == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
