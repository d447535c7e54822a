package relay

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"moto-chat/internal/protocol"
)

var (
	ErrMissingToken    = errors.New("auth frame has no token")
	ErrMissingIdentity = errors.New("auth frame has no identity")
)

type Identity struct {
	UserID   int
	Username string
}

// IdentityVerifier turns an auth frame into a trusted identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, f protocol.Auth) (Identity, error)
}

// TokenValidator is what TokenVerifier needs from the account service.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

// TokenVerifier binds the identity carried by a signed token. Client-claimed
// userId and username fields are ignored.
type TokenVerifier struct {
	Validator TokenValidator
}

func (v TokenVerifier) Verify(_ context.Context, f protocol.Auth) (Identity, error) {
	if f.Token == "" {
		return Identity{}, ErrMissingToken
	}
	id, name, err := v.Validator.ValidateToken(f.Token)
	if err != nil {
		return Identity{}, errors.Wrap(err, "validate token")
	}
	return Identity{UserID: id, Username: name}, nil
}

// TrustingVerifier accepts whatever identity the client claims. Only for
// local development.
type TrustingVerifier struct{}

func (TrustingVerifier) Verify(_ context.Context, f protocol.Auth) (Identity, error) {
	if f.UserID <= 0 || strings.TrimSpace(f.Username) == "" {
		return Identity{}, ErrMissingIdentity
	}
	return Identity{UserID: f.UserID, Username: f.Username}, nil
}
