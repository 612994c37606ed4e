package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/audience"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type PreviewAudienceRequest struct {
	Criteria models.RuleSet `json:"criteria"`
}

type CreateAudienceRequest struct {
	Name     string         `json:"name" validate:"required,max=200"`
	Criteria models.RuleSet `json:"criteria"`
}

type NotifyAudienceRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required,max=4000"`
}

type NotifyResult struct {
	Recipients int64 `json:"recipients"`
}

type AudienceServiceInterface interface {
	Preview(ctx context.Context, p models.Principal, req PreviewAudienceRequest) (*models.AudiencePreview, error)
	Create(ctx context.Context, p models.Principal, req CreateAudienceRequest) (*models.Audience, error)
	List(ctx context.Context, p models.Principal) ([]models.Audience, error)
	Get(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Audience, error)
	Refresh(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Audience, error)
	Notify(ctx context.Context, p models.Principal, id uuid.UUID, req NotifyAudienceRequest) (*NotifyResult, error)
	IsMember(ctx context.Context, audienceID, customerID uuid.UUID) (bool, error)
}

// AudienceService sizes and targets customer segments described by rule
// sets. Every evaluation runs against current data.
type AudienceService struct {
	audiences repositories.AudienceRepositoryInterface
	compiler  *audience.Compiler
	logger    *logger.Logger
}

func NewAudienceService(audiences repositories.AudienceRepositoryInterface, compiler *audience.Compiler, log *logger.Logger) *AudienceService {
	return &AudienceService{
		audiences: audiences,
		compiler:  compiler,
		logger:    log.WithComponent("audience_service"),
	}
}

func marketer(p models.Principal) error {
	if err := requireKind(p, models.KindAdmin); err != nil {
		return err
	}
	return requireCapability(p, models.CapManageMarketing)
}

func checkMatch(rs models.RuleSet) error {
	if rs.Match != "" && rs.Match != models.MatchAll && rs.Match != models.MatchAny {
		return apperr.Validation("match must be all or any.").With("field", "match").WithCode("invalid_oneof")
	}
	return nil
}

func (s *AudienceService) Preview(ctx context.Context, p models.Principal, req PreviewAudienceRequest) (*models.AudiencePreview, error) {
	if err := marketer(p); err != nil {
		return nil, err
	}
	if err := checkMatch(req.Criteria); err != nil {
		return nil, err
	}

	q := s.compiler.Compile(req.Criteria)
	size, err := s.audiences.Count(ctx, q)
	if err != nil {
		s.logger.Error("Failed to size audience", "error", err)
		return nil, classify(err, "preview audience")
	}
	return &models.AudiencePreview{Size: size, Warnings: q.Warnings}, nil
}

func (s *AudienceService) Create(ctx context.Context, p models.Principal, req CreateAudienceRequest) (*models.Audience, error) {
	if err := marketer(p); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := checkMatch(req.Criteria); err != nil {
		return nil, err
	}
	if req.Criteria.Match == "" {
		req.Criteria.Match = models.MatchAll
	}

	size, err := s.audiences.Count(ctx, s.compiler.Compile(req.Criteria))
	if err != nil {
		return nil, classify(err, "create audience")
	}
	a := &models.Audience{
		Name:             strings.TrimSpace(req.Name),
		Criteria:         req.Criteria,
		MaterializedSize: size,
		CreatedBy:        p.ID,
	}
	if err := s.audiences.Create(ctx, a); err != nil {
		s.logger.Error("Failed to create audience", "error", err)
		return nil, classify(err, "create audience")
	}

	s.logger.Info("Audience created", "audience_id", a.ID, "size", size)
	return a, nil
}

func (s *AudienceService) List(ctx context.Context, p models.Principal) ([]models.Audience, error) {
	if err := marketer(p); err != nil {
		return nil, err
	}
	list, err := s.audiences.List(ctx)
	if err != nil {
		return nil, classify(err, "list audiences")
	}
	return list, nil
}

func (s *AudienceService) Get(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Audience, error) {
	if err := marketer(p); err != nil {
		return nil, err
	}
	a, err := s.audiences.GetByID(ctx, id)
	if err != nil {
		return nil, classify(err, "get audience")
	}
	return a, nil
}

// Refresh recounts the audience and stores the size for display.
func (s *AudienceService) Refresh(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Audience, error) {
	a, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	size, err := s.audiences.Count(ctx, s.compiler.Compile(a.Criteria))
	if err != nil {
		return nil, classify(err, "refresh audience")
	}
	if err := s.audiences.UpdateSize(ctx, id, size); err != nil {
		return nil, classify(err, "refresh audience")
	}
	s.logger.Info("Audience refreshed", "audience_id", id, "previous", a.MaterializedSize, "size", size)
	a.MaterializedSize = size
	return a, nil
}

// Notify writes one notification per current member.
func (s *AudienceService) Notify(ctx context.Context, p models.Principal, id uuid.UUID, req NotifyAudienceRequest) (*NotifyResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	a, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	n, err := s.audiences.Notify(ctx, s.compiler.Compile(a.Criteria), req.Title, req.Body)
	if err != nil {
		s.logger.Error("Failed to notify audience", "audience_id", id, "error", err)
		return nil, classify(err, "notify audience")
	}
	s.logger.Info("Audience notified", "audience_id", id, "recipients", n)
	return &NotifyResult{Recipients: n}, nil
}

// IsMember evaluates the audience's rules for one customer.
func (s *AudienceService) IsMember(ctx context.Context, audienceID, customerID uuid.UUID) (bool, error) {
	a, err := s.audiences.GetByID(ctx, audienceID)
	if err != nil {
		return false, err
	}
	return s.audiences.IsMember(ctx, s.compiler.Compile(a.Criteria), customerID)
}
