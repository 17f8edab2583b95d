package service

import (
	"testing"
	"time"

	"github.com/pewsoft/subscriptions/internal/domain/audit"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/testutil"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type AuditServiceSuite struct {
	testutil.BaseServiceTestSuite
	service AuditService
}

func TestAuditService(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewAuditService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *AuditServiceSuite) record(tenantID string, action types.AuditAction, entityID string, at time.Time) {
	l := audit.New(s.GetContext(), tenantID, action, types.AuditEntitySubscription, entityID, "", nil)
	l.CreatedAt = at
	s.Require().NoError(s.GetStores().AuditRepo.Create(s.GetContext(), l))
}

func (s *AuditServiceSuite) TestListAuditLogs() {
	now := s.GetNow()
	s.record("tenant-a", types.AuditActionSubscriptionCreated, "sub_1", now.Add(-3*time.Hour))
	s.record("tenant-a", types.AuditActionSubscriptionTransitioned, "sub_1", now.Add(-2*time.Hour))
	s.record("tenant-a", types.AuditActionPlanChanged, "sub_1", now.Add(-time.Hour))
	s.record("tenant-b", types.AuditActionSubscriptionCreated, "sub_2", now)

	resp, err := s.service.ListAuditLogs(s.GetContext(), nil)
	s.Require().NoError(err)
	s.Equal(4, resp.Pagination.Total)
	s.Require().Len(resp.Items, 4)
	s.Equal("tenant-b", resp.Items[0].TenantID)

	filter := types.NewAuditFilter()
	filter.TenantID = "tenant-a"
	filter.Limit = lo.ToPtr(2)
	resp, err = s.service.ListAuditLogs(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Equal(3, resp.Pagination.Total)
	s.Equal(2, resp.Pagination.Limit)
	s.Require().Len(resp.Items, 2)
	s.Equal(types.AuditActionPlanChanged, resp.Items[0].Action)

	filter = types.NewAuditFilter()
	filter.Actions = []types.AuditAction{types.AuditActionSubscriptionCreated}
	filter.Since = lo.ToPtr(now.Add(-time.Hour))
	resp, err = s.service.ListAuditLogs(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Require().Len(resp.Items, 1)
	s.Equal("sub_2", resp.Items[0].EntityID)
}

func (s *AuditServiceSuite) TestListAuditLogsValidation() {
	filter := types.NewAuditFilter()
	filter.Limit = lo.ToPtr(5000)
	_, err := s.service.ListAuditLogs(s.GetContext(), filter)
	s.True(ierr.IsValidation(err))
}

func (s *AuditServiceSuite) TestAuditRecordsActor() {
	ctx := testutil.ActorContext(testutil.TenantContext("tenant-c"), types.ActorTypeAdmin)
	l := audit.New(ctx, "tenant-c", types.AuditActionPlanChanged, types.AuditEntitySubscription, "sub_9", "support request", nil)
	s.Require().NoError(s.GetStores().AuditRepo.Create(ctx, l))

	filter := types.NewAuditFilter()
	filter.TenantID = "tenant-c"
	resp, err := s.service.ListAuditLogs(ctx, filter)
	s.Require().NoError(err)
	s.Require().Len(resp.Items, 1)
	s.Equal(types.ActorTypeAdmin, resp.Items[0].ActorType)
	s.Equal(types.DefaultUserID, resp.Items[0].ActorID)
	s.Equal("support request", resp.Items[0].Reason)
	s.False(resp.Pagination.HasMore)
}
