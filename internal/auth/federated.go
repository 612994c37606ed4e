package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

var (
	ErrFederatedRejected = errors.New("identity token rejected")
	ErrAudienceMismatch  = errors.New("identity token issued for another client")
	ErrEmailUnverified   = errors.New("identity email is not verified")
)

// FederatedIdentity is the verified subject of an external ID token.
type FederatedIdentity struct {
	Subject string
	Email   string
	Name    string
}

// FederatedVerifier checks an identity provider token.
type FederatedVerifier interface {
	Verify(ctx context.Context, idToken string) (*FederatedIdentity, error)
}

// GoogleVerifier validates ID tokens at Google's tokeninfo endpoint.
type GoogleVerifier struct {
	client   *http.Client
	endpoint string
	clientID string
	logger   *logger.Logger
}

func NewGoogleVerifier(endpoint, clientID string, timeout time.Duration, log *logger.Logger) *GoogleVerifier {
	return &GoogleVerifier{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		endpoint: endpoint,
		clientID: clientID,
		logger:   log.WithComponent("google_verifier"),
	}
}

type tokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (*FederatedIdentity, error) {
	if g.clientID == "" {
		return nil, fmt.Errorf("%w: federated sign-in is not configured", ErrFederatedRejected)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?id_token="+url.QueryEscape(idToken), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("tokeninfo returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ErrFederatedRejected
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo: %w", err)
	}
	if info.Aud != g.clientID {
		g.logger.Warn("Federated token audience mismatch", "aud", info.Aud)
		return nil, ErrAudienceMismatch
	}
	if info.EmailVerified != "true" || info.Email == "" {
		return nil, ErrEmailUnverified
	}
	return &FederatedIdentity{Subject: info.Sub, Email: info.Email, Name: info.Name}, nil
}
