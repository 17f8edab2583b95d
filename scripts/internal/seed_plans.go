package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/service"
)

// SeedPlans upserts every plan in PLANS_FILE, a JSON object keyed by plan code
func SeedPlans() error {
	plansFile := os.Getenv("PLANS_FILE")
	if plansFile == "" {
		return fmt.Errorf("plans_file is required")
	}

	data, err := os.ReadFile(plansFile)
	if err != nil {
		return fmt.Errorf("failed to read plans file: %w", err)
	}

	var plans map[string]dto.UpsertPlanRequest
	if err := json.Unmarshal(data, &plans); err != nil {
		return fmt.Errorf("failed to parse plans file: %w", err)
	}

	env, err := newScriptEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	planService := service.NewPlanService(env.params)
	ctx := context.Background()

	codes := make([]string, 0, len(plans))
	for code := range plans {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		resp, err := planService.UpsertPlan(ctx, code, plans[code])
		if err != nil {
			return fmt.Errorf("failed to upsert plan %s: %w", code, err)
		}
		log.Printf("Upserted plan %s (%s) with %d features\n", resp.Code, resp.ID, len(resp.Features))
	}

	log.Printf("Seeded %d plans\n", len(codes))
	return nil
}
