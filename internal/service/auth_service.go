package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/auth"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type RegisterCustomerRequest struct {
	Email     string  `json:"email" validate:"required,email,max=254"`
	Password  string  `json:"password" validate:"required,min=8,max=128"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"max=100"`
	Phone     *string `json:"phone" validate:"omitempty,e164"`
}

type GoogleLoginRequest struct {
	IDToken string           `json:"id_token" validate:"required"`
	Kind    models.ActorKind `json:"kind" validate:"required,oneof=customer chef"`
}

type TokenResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Kind        models.ActorKind `json:"kind"`
	ActorID     uuid.UUID        `json:"actor_id"`
}

type AuthServiceInterface interface {
	Login(ctx context.Context, kind models.ActorKind, req LoginRequest) (*TokenResponse, error)
	RegisterCustomer(ctx context.Context, req RegisterCustomerRequest) (*TokenResponse, error)
	Google(ctx context.Context, req GoogleLoginRequest) (*TokenResponse, error)
}

// AuthService issues bearer tokens for password and federated sign-in.
type AuthService struct {
	actors     repositories.ActorRepositoryInterface
	tokens     *auth.TokenIssuer
	federated  auth.FederatedVerifier
	bcryptCost int
	dummyHash  string
	logger     *logger.Logger
}

func NewAuthService(
	actors repositories.ActorRepositoryInterface,
	tokens *auth.TokenIssuer,
	federated auth.FederatedVerifier,
	bcryptCost int,
	log *logger.Logger,
) *AuthService {
	// Compared against when the email is unknown so both paths cost one bcrypt check.
	dummy, _ := auth.HashPassword(uuid.NewString(), bcryptCost)
	return &AuthService{
		actors:     actors,
		tokens:     tokens,
		federated:  federated,
		bcryptCost: bcryptCost,
		dummyHash:  dummy,
		logger:     log.WithComponent("auth_service"),
	}
}

func (s *AuthService) Login(ctx context.Context, kind models.ActorKind, req LoginRequest) (*TokenResponse, error) {
	if !kind.Valid() {
		return nil, apperr.NotFound("Login endpoint")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	creds, err := s.actors.Credentials(ctx, kind, req.Email)
	if err != nil {
		return nil, classify(err, "login")
	}
	invalid := apperr.AuthFailed("Incorrect email or password.").WithCode("invalid_credentials")
	if creds == nil {
		auth.CheckPassword(s.dummyHash, req.Password)
		s.logger.Info("Login failed: unknown email", "kind", kind)
		return nil, invalid
	}
	if !auth.CheckPassword(creds.PasswordHash, req.Password) {
		s.logger.Info("Login failed: wrong password", "kind", kind, "actor_id", creds.ID)
		return nil, invalid
	}
	if !creds.IsActive {
		return nil, apperr.Forbidden("This account is inactive.").WithCode("inactive")
	}

	return s.issue(ctx, kind, creds.ID)
}

func (s *AuthService) RegisterCustomer(ctx context.Context, req RegisterCustomerRequest) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, apperr.Internal(err, "register customer")
	}

	id, err := s.actors.CreateCustomer(ctx, repositories.NewCustomer{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        req.Phone,
	})
	if err != nil {
		return nil, classify(err, "register customer")
	}

	s.logger.Info("Customer registered", "customer_id", id)
	return s.issue(ctx, models.KindCustomer, id)
}

// Google verifies an ID token and signs in the linked customer or chef,
// provisioning the account on first use.
func (s *AuthService) Google(ctx context.Context, req GoogleLoginRequest) (*TokenResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ident, err := s.federated.Verify(ctx, req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAudienceMismatch), errors.Is(err, auth.ErrEmailUnverified), errors.Is(err, auth.ErrFederatedRejected):
			s.logger.Info("Federated sign-in rejected", "kind", req.Kind, "error", err)
			return nil, apperr.AuthFailed("The identity token was rejected.").WithCode("federated_rejected")
		default:
			s.logger.Error("Identity provider unavailable", "error", err)
			return nil, apperr.Upstream(err, "The identity provider")
		}
	}

	id, err := s.actors.LinkFederated(ctx, req.Kind, repositories.FederatedAccount{
		Subject: ident.Subject,
		Email:   ident.Email,
		Name:    ident.Name,
	})
	if err != nil {
		return nil, classify(err, "federated sign-in")
	}
	return s.issue(ctx, req.Kind, id)
}

func (s *AuthService) issue(ctx context.Context, kind models.ActorKind, id uuid.UUID) (*TokenResponse, error) {
	st, err := s.actors.ActorStatus(ctx, kind, id)
	if err != nil {
		return nil, classify(err, "load actor status")
	}
	if !st.IsActive {
		return nil, apperr.Forbidden("This account is inactive.").WithCode("inactive")
	}

	token, exp, err := s.tokens.Issue(models.Principal{Kind: kind, ID: id, Role: st.Role, Permissions: st.Permissions})
	if err != nil {
		return nil, apperr.Internal(err, "issue token")
	}
	s.logger.Info("Issued access token", "kind", kind, "actor_id", id)
	return &TokenResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: exp, Kind: kind, ActorID: id}, nil
}
