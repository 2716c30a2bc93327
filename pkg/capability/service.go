// Package capability issues and verifies capability tokens: scoped,
// time-bounded permission grants encoded as compact HS256 JWTs.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/crypto"
	"github.com/Mindburn-Labs/avs/pkg/idgen"
)

const (
	DefaultIssuer = "avs-gateway"
	DefaultTTL    = time.Hour
)

// IssueRequest carries the grant to encode. A zero TTL selects the
// service default.
type IssueRequest struct {
	Subject  string
	Action   string
	Resource string
	Scope    []string
	Limits   map[string]any
	TTL      time.Duration
}

// Token is an issued capability token: the compact serialization plus the
// claims it carries.
type Token struct {
	Raw    string
	Claims *contracts.CapabilityClaims
}

// Service issues and verifies capability tokens.
type Service struct {
	signer     crypto.Signer
	ids        idgen.Generator
	registry   Registry
	issuer     string
	defaultTTL time.Duration
	clock      func() time.Time
	parser     *jwt.Parser
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used for deterministic expiry tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator overrides token id generation.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Service) { s.ids = g }
}

// WithIssuer sets the iss claim.
func WithIssuer(iss string) Option {
	return func(s *Service) { s.issuer = iss }
}

// WithRegistry sets the token id registry that rejects reuse.
func WithRegistry(r Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithDefaultTTL sets the lifetime used when a request carries none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

// NewService returns a Service signing with signer.
func NewService(signer crypto.Signer, opts ...Option) *Service {
	s := &Service{
		signer:     signer,
		ids:        idgen.UUID{},
		registry:   NewMemoryRegistry(),
		issuer:     DefaultIssuer,
		defaultTTL: DefaultTTL,
		clock:      time.Now,
		parser:     jwt.NewParser(jwt.WithStrictDecoding()),
		logger:     slog.Default().With("component", "capability"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a new token for req.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Token, error) {
	if err := validateRequest(req); err != nil {
		return Token{}, err
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	limits, err := normalizeLimits(req.Limits)
	if err != nil {
		return Token{}, err
	}

	// Second precision, matching the NumericDate wire encoding, so the
	// claims returned here equal the claims Verify decodes.
	now := time.Unix(s.clock().Unix(), 0)
	exp := now.Add(ttl)
	jti := s.ids.NewID()
	if err := s.registry.Reserve(ctx, jti, now, exp); err != nil {
		return Token{}, fmt.Errorf("reserve token id: %w", err)
	}

	claims := &contracts.CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Action:   req.Action,
		Resource: req.Resource,
		Scope:    slices.Clone(req.Scope),
		Limits:   limits,
		Version:  contracts.CapabilityVersion,
	}

	raw, err := jwt.NewWithClaims(method, claims).SignedString(s.signer)
	if err != nil {
		return Token{}, fmt.Errorf("sign capability token: %w", err)
	}
	s.logger.Debug("issued capability token", "jti", jti, "sub", req.Subject, "act", req.Action, "exp", exp.Unix())
	return Token{Raw: raw, Claims: claims}, nil
}

// normalizeLimits returns limits in the form Verify decodes them: numbers
// become float64 and nested values generic JSON types. Empty limits are
// omitted from the token and normalize to nil.
func normalizeLimits(limits map[string]any) (map[string]any, error) {
	if len(limits) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("%w: limits: %v", contracts.ErrMalformed, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: limits: %v", contracts.ErrMalformed, err)
	}
	return out, nil
}

func validateRequest(req IssueRequest) error {
	switch {
	case strings.TrimSpace(req.Subject) == "":
		return fmt.Errorf("%w: subject is required", contracts.ErrMalformed)
	case strings.TrimSpace(req.Action) == "":
		return fmt.Errorf("%w: action is required", contracts.ErrMalformed)
	case strings.TrimSpace(req.Resource) == "":
		return fmt.Errorf("%w: resource is required", contracts.ErrMalformed)
	case req.TTL < 0:
		return fmt.Errorf("%w: ttl must be positive", contracts.ErrMalformed)
	case req.TTL > 0 && req.TTL < time.Second:
		return fmt.Errorf("%w: ttl below one second", contracts.ErrMalformed)
	}
	return nil
}

// Verify checks integrity first, then structure, then expiry. A token that
// is both tampered and expired reports ErrInvalidSignature.
func (s *Service) Verify(raw string) (*contracts.CapabilityClaims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: token has %d segments", contracts.ErrMalformed, len(parts))
	}

	sig, err := s.parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", contracts.ErrInvalidSignature, err)
	}
	if err := method.Verify(parts[0]+"."+parts[1], sig, s.signer); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidSignature, err)
	}

	claims := &contracts.CapabilityClaims{}
	token, _, err := s.parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrMalformed, err)
	}
	if token.Method.Alg() != algorithm {
		return nil, fmt.Errorf("%w: unexpected alg %q", contracts.ErrMalformed, token.Method.Alg())
	}
	if claims.Version != contracts.CapabilityVersion {
		return nil, fmt.Errorf("%w: unsupported token version %q", contracts.ErrMalformed, claims.Version)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: iat and exp are required", contracts.ErrMalformed)
	}
	if !claims.Expiry().After(claims.IssuedAtTime()) {
		return nil, fmt.Errorf("%w: exp must follow iat", contracts.ErrMalformed)
	}

	if now := s.clock(); !now.Before(claims.Expiry()) {
		return nil, fmt.Errorf("%w: token %s expired at %s", contracts.ErrExpired, claims.ID, claims.Expiry().UTC().Format(time.RFC3339))
	}
	return claims, nil
}

// Decode parses a token without checking its signature or expiry. It is
// only for displaying tokens whose integrity was established elsewhere.
func Decode(raw string) (*contracts.CapabilityClaims, error) {
	claims := &contracts.CapabilityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrMalformed, err)
	}
	return claims, nil
}
