// Package token issues and resolves profile access tokens.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
)

// DefaultTTL is how long a profile link stays valid after issuance.
const DefaultTTL = 7 * 24 * time.Hour

// tokenBytes is the amount of randomness in each token.
const tokenBytes = 32

// Store is the persistence the issuer needs.
type Store interface {
	SetAuthToken(ctx context.Context, jobID string, tok model.AccessToken) (model.AccessToken, error)
	GetSubmissionByToken(ctx context.Context, token string) (*model.Submission, error)
	GetProfileBySubmission(ctx context.Context, jobID string) (*model.Profile, error)
}

// Kind classifies a token lookup.
type Kind int

const (
	NotFound Kind = iota
	Pending
	Expired
	Fresh
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Expired:
		return "expired"
	case Fresh:
		return "fresh"
	default:
		return "not_found"
	}
}

// Resolution is the outcome of Resolve. Profile is set only for Fresh;
// Submission is set for everything but NotFound.
type Resolution struct {
	Kind       Kind
	Submission *model.Submission
	Profile    *model.Profile
}

// Issuer mints tokens and resolves them back to profiles.
type Issuer struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	rand  io.Reader
}

// New returns an Issuer. A non-positive ttl uses DefaultTTL.
func New(st Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{store: st, ttl: ttl, now: time.Now, rand: rand.Reader}
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue returns the submission's access token, minting one if none is
// stored. Calling it again for the same submission returns the stored token.
func (i *Issuer) Issue(ctx context.Context, sub *model.Submission) (model.AccessToken, error) {
	value, err := i.mint()
	if err != nil {
		return model.AccessToken{}, err
	}
	now := i.now().UTC()
	tok := model.AccessToken{Value: value, IssuedAt: now, ExpiresAt: now.Add(i.ttl)}

	stored, err := i.store.SetAuthToken(ctx, sub.JobID, tok)
	if err != nil {
		return model.AccessToken{}, eris.Wrapf(err, "token: issue for %s", sub.JobID)
	}
	sub.AuthToken = stored.Value
	sub.TokenIssuedAt = &stored.IssuedAt
	sub.TokenExpiresAt = &stored.ExpiresAt
	return stored, nil
}

func (i *Issuer) mint() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.rand, b); err != nil {
		return "", eris.Wrap(err, "token: read random")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Resolve looks up a token. Expiry is evaluated against the current time on
// every call. Only storage failures are returned as errors.
func (i *Issuer) Resolve(ctx context.Context, token string) (Resolution, error) {
	res, err := i.resolve(ctx, token)
	if err == nil {
		metrics.ObserveTokenResolution(res.Kind.String())
	}
	return res, err
}

func (i *Issuer) resolve(ctx context.Context, token string) (Resolution, error) {
	if token == "" {
		return Resolution{Kind: NotFound}, nil
	}

	sub, err := i.store.GetSubmissionByToken(ctx, token)
	if eris.Is(err, store.ErrNotFound) {
		return Resolution{Kind: NotFound}, nil
	}
	if err != nil {
		return Resolution{}, eris.Wrap(err, "token: resolve")
	}

	if sub.Status != model.StatusComplete {
		return Resolution{Kind: Pending, Submission: sub}, nil
	}
	if tok, ok := sub.Token(); !ok || tok.Expired(i.now()) {
		return Resolution{Kind: Expired, Submission: sub}, nil
	}

	p, err := i.store.GetProfileBySubmission(ctx, sub.JobID)
	if eris.Is(err, store.ErrNotFound) {
		return Resolution{Kind: NotFound, Submission: sub}, nil
	}
	if err != nil {
		return Resolution{}, eris.Wrapf(err, "token: load profile for %s", sub.JobID)
	}
	return Resolution{Kind: Fresh, Submission: sub, Profile: p}, nil
}
