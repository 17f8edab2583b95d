package internal

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/service"
	"github.com/pewsoft/subscriptions/internal/types"
)

func systemContext() context.Context {
	return types.SetActorType(context.Background(), types.ActorTypeSystem)
}

// AssignPlan puts TENANT_ID on PLAN_CODE as a manually billed subscription
func AssignPlan() error {
	tenantID := os.Getenv("TENANT_ID")
	planCode := os.Getenv("PLAN_CODE")
	if tenantID == "" || planCode == "" {
		return fmt.Errorf("tenant_id and plan_code are required")
	}

	env, err := newScriptEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := service.NewSubscriptionService(env.params).AssignPlan(systemContext(), tenantID, dto.AssignPlanRequest{
		PlanCode: planCode,
		Reason:   "assigned by script",
	})
	if err != nil {
		return fmt.Errorf("failed to assign plan: %w", err)
	}

	log.Printf("Tenant %s is now on %s (%s, %s)\n", tenantID, planCode, resp.ID, resp.Status)
	return nil
}

// BackfillMetadata pushes tenant and plan metadata to provider subscriptions.
// Runs dry unless DRY_RUN=false.
func BackfillMetadata() error {
	env, err := newScriptEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	req := dto.BackfillRequest{DryRun: os.Getenv("DRY_RUN") != "false"}
	resp, err := service.NewReconciliationService(env.params).BackfillMetadata(systemContext(), req)
	if err != nil {
		return fmt.Errorf("failed to backfill metadata: %w", err)
	}

	log.Printf("Backfill (dry_run=%v): scanned=%d updated=%d skipped=%d failed=%d\n",
		resp.DryRun, resp.Scanned, resp.Updated, resp.Skipped, resp.Failed)
	return nil
}

// RunSweep applies the time based transitions once
func RunSweep() error {
	env, err := newScriptEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := service.NewDunningService(env.params).RunSweep(systemContext(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to run sweep: %w", err)
	}

	log.Printf("Sweep: trials_expired=%d grace_expired=%d plan_changes=%d cancellations=%d failed=%d\n",
		resp.TrialsExpired, resp.GraceExpired, resp.PlanChangesApplied, resp.CancellationsApplied, resp.Failed)
	return nil
}

// PullSync converges local rows for PROVIDER with the provider's view
func PullSync() error {
	provider := types.PaymentProvider(strings.ToUpper(os.Getenv("PROVIDER")))
	if provider == "" {
		return fmt.Errorf("provider is required")
	}

	env, err := newScriptEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := service.NewReconciliationService(env.params).PullSync(systemContext(), provider, dto.PullSyncRequest{})
	if err != nil {
		return fmt.Errorf("failed to pull sync: %w", err)
	}

	log.Printf("Pull sync %s: scanned=%d updated=%d unchanged=%d failed=%d\n",
		resp.Provider, resp.Scanned, resp.Updated, resp.Unchanged, resp.Failed)
	return nil
}
