package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/notifygate/internal/domain"
)

var ErrUnknownToken = errors.New("unknown token")

// Resolver maps the token presented during the handshake to an owner id.
type Resolver interface {
	ResolveOwner(ctx context.Context, token string) (string, error)
}

// TokenIsOwner treats the token itself as the owner id.
type TokenIsOwner struct {
	Strict bool
}

func (r TokenIsOwner) ResolveOwner(_ context.Context, token string) (string, error) {
	owner, err := domain.ParseOwner(token, r.Strict)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownToken, err)
	}
	return owner, nil
}
