package receipts

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/repository"
)

// Service handles receipt queries.
type Service struct {
	receiptRepo repository.ReceiptRepository
	validator   *common.Validator
	logger      *slog.Logger
}

// NewService creates a new receipt service.
func NewService(receiptRepo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		receiptRepo: receiptRepo,
		validator:   common.NewValidator(),
		logger:      logger,
	}
}

// ListReceiptsRequest carries the raw query parameters of a listing.
type ListReceiptsRequest struct {
	Category  string `validate:"omitempty,category"`
	FromDate  string `validate:"omitempty,datetime=2006-01-02"`
	ToDate    string `validate:"omitempty,datetime=2006-01-02"`
	Corrected string `validate:"omitempty,oneof=true false"`
	Limit     int    `validate:"gte=0,lte=1000"`
	Offset    int    `validate:"gte=0"`
}

// Filter validates the request and converts it into a repository filter.
func (s *Service) Filter(req ListReceiptsRequest) (entity.ReceiptFilter, error) {
	if c, ok := constants.Canonicalize(req.Category); ok {
		req.Category = string(c)
	}
	if err := s.validator.Struct(req); err != nil {
		return entity.ReceiptFilter{}, err
	}

	f := entity.ReceiptFilter{
		Category: constants.Category(req.Category),
		Limit:    req.Limit,
		Offset:   req.Offset,
	}
	if req.FromDate != "" {
		from, _ := time.Parse(time.DateOnly, req.FromDate)
		f.From = &from
	}
	if req.ToDate != "" {
		to, _ := time.Parse(time.DateOnly, req.ToDate)
		f.To = &to
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return entity.ReceiptFilter{}, common.InvalidInputf("to_date %s is before from_date %s", req.ToDate, req.FromDate)
	}
	if req.Corrected != "" {
		corrected, _ := strconv.ParseBool(req.Corrected)
		f.Corrected = &corrected
	}
	return f, nil
}

// ListReceipts returns a page of receipts and the number of matches.
func (s *Service) ListReceipts(ctx context.Context, req ListReceiptsRequest) ([]*entity.Receipt, int, error) {
	f, err := s.Filter(req)
	if err != nil {
		return nil, 0, err
	}
	recs, err := s.receiptRepo.List(ctx, f)
	if err != nil {
		s.logger.Error("failed to list receipts", "error", err)
		return nil, 0, err
	}
	total, err := s.receiptRepo.Count(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	s.logger.Debug("receipts listed", "count", len(recs), "total", total, "category", f.Category)
	return recs, total, nil
}

func (s *Service) GetReceipt(ctx context.Context, id string) (*entity.Receipt, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.receiptRepo.Get(ctx, id)
}

func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.receiptRepo.Delete(ctx, id)
}

// ParseCategory accepts a label or one of its synonyms, case-insensitively.
func ParseCategory(raw string) (constants.Category, error) {
	c, ok := constants.Canonicalize(raw)
	if !ok {
		return "", common.InvalidInputf("category must be one of %s", strings.Join(constants.AsStringSlice(), ", "))
	}
	return c, nil
}

func checkID(id string) error {
	if err := uuid.Validate(id); err != nil {
		return common.InvalidInputf("receipt id must be a UUID")
	}
	return nil
}
