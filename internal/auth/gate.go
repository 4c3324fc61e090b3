package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// GateState is the outcome of the gate for one request.
type GateState int

const (
	Unchecked GateState = iota
	Public
	Identified
	Unauthenticated
)

func (s GateState) String() string {
	switch s {
	case Public:
		return "public"
	case Identified:
		return "identified"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unchecked"
	}
}

// GateStateFrom returns the state recorded by the gate for this request.
func GateStateFrom(ctx context.Context) GateState {
	s, _ := ctx.Value(gateStateKey).(GateState)
	return s
}

const bearerPrefix = "Bearer "

// AccessTokenParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const AccessTokenParam = "access_token"

// Verifier verifies a bearer token.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// AccountLookup reports whether a username has an account.
type AccountLookup interface {
	Exists(ctx context.Context, username string) (bool, error)
}

// GateOptions configures a Gate.
type GateOptions struct {
	// PublicPrefixes are path prefixes that never look at credentials.
	PublicPrefixes []string
	// UpgradePath accepts AccessTokenParam in addition to the header.
	UpgradePath string
	// Strict answers a present but invalid credential with 401 instead of
	// letting the request continue anonymously. Missing credentials always
	// continue.
	Strict bool
	// Accounts, when set, must know the token subject; a token for a
	// username without an account counts as an invalid credential.
	Accounts AccountLookup
}

// Gate attaches an identity to requests that carry a valid bearer token.
// It fails open: requests without a usable credential continue without an
// identity, and RequireIdentity is what rejects them on protected routes.
type Gate struct {
	tokens    Verifier
	opts      GateOptions
	log       logrus.FieldLogger
	decisions *prometheus.CounterVec
}

// NewGate creates a gate. reg may be nil.
func NewGate(tokens Verifier, opts GateOptions, log logrus.FieldLogger, reg prometheus.Registerer) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	g := &Gate{
		tokens: tokens,
		opts:   opts,
		log:    log,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sealedchat",
			Name:      "auth_gate_decisions_total",
			Help:      "Requests seen by the auth gate, by resulting state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(g.decisions)
	}
	return g
}

// Middleware wraps next with the gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, state, reject := g.evaluate(r)
		g.decisions.WithLabelValues(state.String()).Inc()
		if reject {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, gateStateKey, state)))
	})
}

func (g *Gate) evaluate(r *http.Request) (context.Context, GateState, bool) {
	ctx := r.Context()
	if g.isPublic(r.URL.Path) {
		return ctx, Public, false
	}

	raw, ok := g.credential(r)
	if !ok {
		return ctx, Unauthenticated, false
	}

	id, err := g.tokens.Verify(raw)
	if err != nil {
		g.log.WithField("path", r.URL.Path).WithError(err).Debug("rejected bearer token")
		return ctx, Unauthenticated, g.opts.Strict
	}
	if g.opts.Accounts != nil {
		exists, err := g.opts.Accounts.Exists(ctx, id.String())
		if err != nil {
			g.log.WithField("user", id).WithError(err).Error("account lookup failed")
			return ctx, Unauthenticated, false
		}
		if !exists {
			g.log.WithField("user", id).Debug("token subject has no account")
			return ctx, Unauthenticated, g.opts.Strict
		}
	}

	ctx, attached := WithIdentity(ctx, id)
	if !attached {
		// keep whatever was attached first
		existing, _ := IdentityFrom(ctx)
		if existing != id {
			g.log.WithFields(logrus.Fields{"user": existing, "token_user": id}).Warn("identity already attached, ignoring token")
		}
	}
	return ctx, Identified, false
}

func (g *Gate) isPublic(path string) bool {
	for _, p := range g.opts.PublicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (g *Gate) credential(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		if token := strings.TrimSpace(header[len(bearerPrefix):]); token != "" {
			return token, true
		}
	}
	if g.opts.UpgradePath != "" && r.URL.Path == g.opts.UpgradePath {
		token := r.URL.Query().Get(AccessTokenParam)
		return token, token != ""
	}
	return "", false
}

// RequireIdentity rejects requests that reached it without an identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"})
}
