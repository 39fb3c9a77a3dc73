package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"anyzine/internal/ratelimit/metrics"
	"anyzine/internal/ratelimit/models"
	"anyzine/internal/ratelimit/observability"
	"anyzine/internal/ratelimit/store/local"
	"anyzine/pkg/platform/audit"
	"anyzine/pkg/platform/httputil"
	"anyzine/pkg/platform/privacy"
	"anyzine/pkg/requestcontext"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderTier       = "X-RateLimit-Tier"
	HeaderRetryAfter = "Retry-After"
)

const (
	messageAnonymousThrottled     = "Rate limit exceeded. Sign in to get 10 generations per day."
	messageAuthenticatedThrottled = "Daily limit reached. Try again after your window resets."
)

// DefaultStoreTimeout bounds each primary store call made by the gate.
const DefaultStoreTimeout = 2 * time.Second

type Middleware struct {
	limiter        Limiter
	fallback       *fallbackLimiter
	breaker        *CircuitBreaker
	sessions       *SessionCookies
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher audit.Publisher
	timeout        time.Duration
	disabled       bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallbackCounter injects the local counter used while the primary store
// is unavailable. One is created when omitted.
func WithFallbackCounter(counter *local.Counter) Option {
	return func(m *Middleware) {
		m.fallback = newFallbackLimiter(counter)
	}
}

// WithSessionCookies enables anonymous session tracking. Without it anonymous
// callers are keyed by network address.
func WithSessionCookies(sessions *SessionCookies) Option {
	return func(m *Middleware) {
		m.sessions = sessions
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(m *Middleware) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mx
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(m *Middleware) {
		m.auditPublisher = publisher
	}
}

func withCircuitBreaker(cb *CircuitBreaker) Option {
	return func(m *Middleware) {
		m.breaker = cb
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
		timeout: DefaultStoreTimeout,
		breaker: newCircuitBreaker(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback == nil {
		m.fallback = newFallbackLimiter(nil)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// ResolveIdentity builds the rate limit identity from the request context.
// A subject wins outright; anonymous callers are keyed by session, then address.
func ResolveIdentity(ctx context.Context) models.Identity {
	if subject := requestcontext.SubjectID(ctx); subject != "" {
		return models.Identity{SubjectID: subject}
	}
	return models.Identity{
		SessionID: requestcontext.SessionID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
	}
}

// Sessions attaches the anonymous session id to every request from a signed
// cookie, issuing one when missing. Use it on routes that are not gated but
// still need the session, such as migration.
func (m *Middleware) Sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(m.withSession(w, r)))
	})
}

// Gate enforces the tier limit on a protected route.
func (m *Middleware) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := m.withSession(w, r)
		r = r.WithContext(ctx)
		identity := ResolveIdentity(ctx)
		now := requestcontext.Now(ctx)

		result, fromPrimary := m.check(ctx, identity, now)
		if result == nil {
			m.logger.WarnContext(ctx, "rate limit identity unresolved, allowing request",
				"ip_prefix", privacy.AnonymizeIP(identity.ClientIP),
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)

		if !result.Allowed {
			m.logger.InfoContext(ctx, "rate limit exceeded",
				"tier", result.Tier.String(),
				"retry_after", result.RetryAfter,
			)
			writeThrottled(w, result)
			return
		}

		if fromPrimary {
			m.record(ctx, identity, now)
		}
		next.ServeHTTP(w, r)
	})
}

// check consults the primary store, falling back to the local counter on any
// error or while the breaker is open. The fallback path records immediately.
func (m *Middleware) check(ctx context.Context, identity models.Identity, now time.Time) (*models.RateLimitResult, bool) {
	if m.breaker.Allow() {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		result, err := m.limiter.CheckRateLimit(checkCtx, identity)
		cancel()
		if err == nil {
			m.breaker.RecordSuccess()
			return result, true
		}
		open := m.breaker.RecordFailure()
		m.logger.WarnContext(ctx, "rate limit store check failed, using local fallback",
			"error", err,
			"operation", "check",
			"identity_kind", identityKind(identity),
			"circuit_open", open,
		)
	}

	m.metrics.IncrementFallback("check")
	result, ok := m.fallback.take(identity, now)
	if !ok {
		return nil, false
	}
	if key, err := identity.Key(); err == nil {
		observability.LogAudit(ctx, nil, m.auditPublisher, audit.ActionRateLimitFallback,
			observability.KeyIdentity, key.Value,
			observability.KeyIdentityKind, key.Kind.String(),
			observability.KeyTier, result.Tier.String(),
		)
	}
	return result, false
}

// record persists the hit after an allowed primary check. A failure never
// re-denies the request; the hit is mirrored locally instead.
func (m *Middleware) record(ctx context.Context, identity models.Identity, now time.Time) {
	recordCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.limiter.RecordRateLimitHit(recordCtx, identity)
	if err == nil {
		return
	}
	m.breaker.RecordFailure()
	m.metrics.IncrementFallback("record")
	m.fallback.mirror(identity, now)
	m.logger.WarnContext(ctx, "rate limit store record failed after allowed check",
		"error", err,
		"operation", "record",
		"identity_kind", identityKind(identity),
	)
	if key, keyErr := identity.Key(); keyErr == nil {
		observability.LogAudit(ctx, nil, m.auditPublisher, audit.ActionRateLimitRecordFailed,
			observability.KeyIdentity, key.Value,
			observability.KeyIdentityKind, key.Kind.String(),
			observability.KeyTier, identity.Tier().String(),
			observability.KeyReason, err.Error(),
		)
	}
}

func (m *Middleware) withSession(w http.ResponseWriter, r *http.Request) context.Context {
	ctx := r.Context()
	if m.sessions == nil {
		return ctx
	}
	if requestcontext.SubjectID(ctx) != "" {
		// Authenticated callers keep an existing session for migration but
		// are never issued a new one.
		if id, ok := m.sessions.Read(r); ok {
			return requestcontext.WithSessionID(ctx, id)
		}
		return ctx
	}
	id, isNew := m.sessions.GetOrCreate(w, r)
	if isNew {
		m.logger.DebugContext(ctx, "issued anonymous session")
	}
	return requestcontext.WithSessionID(ctx, id)
}

func identityKind(identity models.Identity) string {
	key, err := identity.Key()
	if err != nil {
		return ""
	}
	return key.Kind.String()
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set(HeaderLimit, strconv.Itoa(result.Limit))
	w.Header().Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	w.Header().Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
	w.Header().Set(HeaderTier, result.Tier.String())
}

func writeThrottled(w http.ResponseWriter, result *models.RateLimitResult) {
	message := messageAnonymousThrottled
	if result.Tier == models.TierAuthenticated {
		message = messageAuthenticatedThrottled
	}
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ThrottledResponse{
		Error:            message,
		RetryAfter:       result.RetryAfter,
		Tier:             result.Tier,
		UpgradeAvailable: result.Tier.UpgradeAvailable(),
	})
}
