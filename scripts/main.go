package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pewsoft/subscriptions/scripts/internal"
)

// Command represents a script that can be run
type Command struct {
	Name        string
	Description string
	Run         func() error
}

var commands = []Command{
	{
		Name:        "seed-plans",
		Description: "Upsert the plan catalog from a JSON file",
		Run:         internal.SeedPlans,
	},
	{
		Name:        "generate-admin-key",
		Description: "Generate a new platform admin API key",
		Run:         internal.GenerateAdminAPIKey,
	},
	{
		Name:        "generate-token",
		Description: "Sign a tenant token for local testing",
		Run:         internal.GenerateTenantToken,
	},
	{
		Name:        "assign-plan",
		Description: "Assign a plan to a tenant",
		Run:         internal.AssignPlan,
	},
	{
		Name:        "backfill-metadata",
		Description: "Push tenant and plan metadata to provider subscriptions",
		Run:         internal.BackfillMetadata,
	},
	{
		Name:        "sweep",
		Description: "Run the subscription sweep once",
		Run:         internal.RunSweep,
	},
	{
		Name:        "pull-sync",
		Description: "Converge local subscriptions with a provider",
		Run:         internal.PullSync,
	},
}

func main() {
	var (
		listCommands bool
		cmdName      string
		plansFile    string
		tenantID     string
		userID       string
		planCode     string
		provider     string
		dryRun       string
	)

	flag.BoolVar(&listCommands, "list", false, "List all available commands")
	flag.StringVar(&cmdName, "cmd", "", "Command to run")
	flag.StringVar(&plansFile, "plans-file", "", "Path to plans JSON file")
	flag.StringVar(&tenantID, "tenant-id", "", "Tenant ID for operations")
	flag.StringVar(&userID, "user-id", "", "User ID for operations")
	flag.StringVar(&planCode, "plan-code", "", "Plan code for operations")
	flag.StringVar(&provider, "provider", "", "Payment provider (stripe or paystack)")
	flag.StringVar(&dryRun, "dry-run", "", "Set to false to apply a backfill")

	flag.Parse()

	if listCommands {
		fmt.Println("Available commands:")
		for _, cmd := range commands {
			fmt.Printf("  %-20s %s\n", cmd.Name, cmd.Description)
		}
		return
	}

	if cmdName == "" {
		log.Fatal("Please specify a command to run using -cmd flag. Use -list to see available commands.")
	}

	// Set command-specific environment variables
	env := map[string]string{
		"PLANS_FILE": plansFile,
		"TENANT_ID":  tenantID,
		"USER_ID":    userID,
		"PLAN_CODE":  planCode,
		"PROVIDER":   provider,
		"DRY_RUN":    dryRun,
	}
	for key, value := range env {
		if value != "" {
			os.Setenv(key, value)
		}
	}

	for _, cmd := range commands {
		if cmd.Name == cmdName {
			if err := cmd.Run(); err != nil {
				log.Fatalf("Error running command %s: %v", cmdName, err)
			}
			return
		}
	}

	log.Fatalf("Unknown command: %s. Use -list to see available commands.", cmdName)
}
