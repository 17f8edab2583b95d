package service

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/types"
)

type AuditService interface {
	ListAuditLogs(ctx context.Context, filter *types.AuditFilter) (*dto.ListAuditLogsResponse, error)
}

type auditService struct {
	ServiceParams
}

func NewAuditService(params ServiceParams) AuditService {
	return &auditService{
		ServiceParams: params,
	}
}

func (s *auditService) ListAuditLogs(ctx context.Context, filter *types.AuditFilter) (*dto.ListAuditLogsResponse, error) {
	if filter == nil {
		filter = types.NewAuditFilter()
	}
	if filter.QueryFilter == nil {
		filter.QueryFilter = types.NewDefaultQueryFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	logs, err := s.AuditRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.AuditRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := types.NewListResponse(logs, total, filter.QueryFilter)
	return &resp, nil
}
