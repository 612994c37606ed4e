package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// ActorDirectory reports the current state of an actor row.
type ActorDirectory interface {
	ActorStatus(ctx context.Context, kind models.ActorKind, id uuid.UUID) (models.ActorStatus, error)
}

// Authenticator turns bearer tokens into principals.
type Authenticator struct {
	tokens *TokenIssuer
	actors ActorDirectory
	logger *logger.Logger
}

func NewAuthenticator(tokens *TokenIssuer, actors ActorDirectory, log *logger.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, actors: actors, logger: log.WithComponent("authenticator")}
}

// Authenticate verifies token and checks the actor is one of kinds and
// still active. Role and permissions come from the actor row, not the token.
func (a *Authenticator) Authenticate(ctx context.Context, token string, kinds ...models.ActorKind) (models.Principal, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		switch {
		case errors.Is(err, ErrExpired):
			return models.Principal{}, apperr.AuthFailed("Token has expired.").WithCode("token_expired")
		case errors.Is(err, ErrInvalidSignature):
			return models.Principal{}, apperr.AuthFailed("Invalid token signature.").WithCode("invalid_signature")
		default:
			return models.Principal{}, apperr.AuthFailed("Invalid authentication credentials.").WithCode("invalid_token")
		}
	}

	id := uuid.MustParse(claims.ActorID)
	if len(kinds) > 0 && !(models.Principal{Kind: claims.Kind}).Is(kinds...) {
		return models.Principal{}, apperr.Forbidden("This endpoint is not available to your account type.")
	}

	st, err := a.actors.ActorStatus(ctx, claims.Kind, id)
	if err != nil {
		return models.Principal{}, apperr.Internal(err, "load actor status")
	}
	if !st.Exists {
		return models.Principal{}, apperr.AuthFailed("Unknown account.").WithCode("unknown_actor")
	}
	if !st.IsActive {
		return models.Principal{}, apperr.Forbidden("This account is inactive.").WithCode("inactive")
	}

	return models.Principal{
		Kind:        claims.Kind,
		ID:          id,
		Role:        st.Role,
		Permissions: st.Permissions,
	}, nil
}

// Authorize checks that p holds capability.
func Authorize(p models.Principal, capability string) error {
	if p.Can(capability) {
		return nil
	}
	return apperr.Forbidden("You do not have permission to perform this action.")
}
