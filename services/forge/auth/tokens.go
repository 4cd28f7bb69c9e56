// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth issues and verifies bearer tokens and answers
// authorization questions against a fixed role table.
//
// Tokens are HS256 JWTs. The signing key lives in mlocked memory for
// the life of the process. Revocation is a hash blacklist checked on
// every verification from an atomic in-memory snapshot and persisted
// through a RevocationStore so restarts do not resurrect dead tokens.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Issuer is stamped into every token and required on verification.
const Issuer = "ultimate-mcp"

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject   string
	Roles     []string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the JWT payload shape.
type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Service issues, verifies, and revokes tokens.
type Service struct {
	key         *keyHolder
	ttl         time.Duration
	revocations *RevocationIndex
	log         *logging.Logger

	// now is a seam for expiry tests.
	now func() time.Time
}

// NewService takes ownership of key, which is wiped after the call. An
// empty key gets replaced by an ephemeral random one so development
// setups work out of the box; production configs fail validation long
// before reaching here.
func NewService(key []byte, ttl time.Duration, revocations *RevocationIndex, allowInsecureMemory bool, log *logging.Logger) (*Service, error) {
	if log == nil {
		log = logging.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating ephemeral signing key: %w", err)
		}
		log.Warn("no signing key configured; generated an ephemeral one",
			"consequence", "issued tokens will not survive a restart",
		)
	}

	holder, err := newKeyHolder(key, allowInsecureMemory, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		key:         holder,
		ttl:         ttl,
		revocations: revocations,
		log:         log,
		now:         time.Now,
	}, nil
}

// Issue mints a token for subject with the given roles. A
// non-positive ttl uses the service default.
func (s *Service) Issue(subject string, roles []string, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, fault.New(fault.KindInvalidInput, "subject is required")
	}
	if len(roles) == 0 {
		return "", nil, fault.New(fault.KindInvalidInput, "at least one role is required")
	}
	for _, role := range roles {
		if !KnownRole(role) {
			return "", nil, fault.New(fault.KindInvalidInput, "unknown role").
				WithDetails(map[string]any{"role": role})
		}
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims := tokenClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key.bytes())
	if err != nil {
		return "", nil, fault.Wrap(fault.KindInternal, "signing token", err)
	}
	return signed, &Claims{
		Subject:   subject,
		Roles:     roles,
		TokenID:   claims.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Verify checks signature, issuer, expiry, and the revocation
// blacklist. Every rejection is Unauthenticated; the message says why
// without echoing token contents.
func (s *Service) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, fault.New(fault.KindUnauthenticated, "token is required")
	}

	parsed := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, parsed, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, verifyFault(err)
	}
	if parsed.Subject == "" {
		return nil, fault.New(fault.KindUnauthenticated, "token has no subject")
	}
	if len(parsed.Roles) == 0 {
		return nil, fault.New(fault.KindUnauthenticated, "token grants no roles")
	}

	claims := &Claims{
		Subject:   parsed.Subject,
		Roles:     parsed.Roles,
		TokenID:   parsed.ID,
		IssuedAt:  parsed.IssuedAt.Time,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if s.revocations != nil && s.revocations.IsRevoked(TokenHash(token), claims.Subject, claims.IssuedAt) {
		return nil, fault.New(fault.KindUnauthenticated, "token revoked")
	}
	return claims, nil
}

// Revoke blacklists one token until its natural expiry. The signature
// must verify but claim validation is skipped: an expired token is
// still worth blacklisting when clock skew is in play, and revoking it
// must not fail.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if s.revocations == nil {
		return fault.New(fault.KindInternal, "revocation is not configured")
	}
	parsed := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, parsed, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "token unparseable or signature invalid", err)
	}

	expiresAt := s.now().Add(s.ttl)
	if parsed.ExpiresAt != nil {
		expiresAt = parsed.ExpiresAt.Time
	}
	return s.revocations.Revoke(ctx, TokenHash(token), parsed.Subject, expiresAt)
}

// RevokeSubject kills every token issued to subject before now.
// Tokens issued afterwards, including by a subsequent Issue, remain
// valid.
func (s *Service) RevokeSubject(ctx context.Context, subject string) error {
	if s.revocations == nil {
		return fault.New(fault.KindInternal, "revocation is not configured")
	}
	if subject == "" {
		return fault.New(fault.KindInvalidInput, "subject is required")
	}
	return s.revocations.RevokeSubject(ctx, subject, s.now())
}

// Close wipes the signing key.
func (s *Service) Close() {
	s.key.destroy()
}

func (s *Service) keyFunc(*jwt.Token) (any, error) {
	return s.key.bytes(), nil
}

// verifyFault maps parse errors to client-facing reasons.
func verifyFault(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fault.Wrap(fault.KindUnauthenticated, "token expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fault.Wrap(fault.KindUnauthenticated, "token signature invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fault.Wrap(fault.KindUnauthenticated, "token issuer not recognized", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return fault.Wrap(fault.KindUnauthenticated, "token not valid yet", err)
	default:
		return fault.Wrap(fault.KindUnauthenticated, "token invalid", err)
	}
}
