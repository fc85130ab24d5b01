package commands

import (
	"fmt"
	"sort"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/router"
	"github.com/spf13/cobra"
)

// NewPolicyCmd creates the policy command with show and validate subcommands.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the intent routing policy table",
		Long:  "Show or validate the routing policy table (confidence thresholds, cacheability, rate limits).",
	}
	cmd.AddCommand(newPolicyShowCmd())
	cmd.AddCommand(newPolicyValidateCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective policy table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := config.Load()
				if err == nil {
					file = cfg.PolicyFile
				}
			}
			table, err := router.LoadPolicyTable(file)
			if err != nil {
				return fmt.Errorf("load policy table: %w", err)
			}

			categories := make([]string, 0, len(table))
			for category := range table {
				categories = append(categories, string(category))
			}
			sort.Strings(categories)

			fmt.Printf("%-22s %6s %8s %6s %10s %13s %10s\n",
				"CATEGORY", "HIGH", "CONFIRM", "LOW", "CACHEABLE", "SIDE-EFFECTS", "RATE")
			for _, name := range categories {
				p := table[models.IntentCategory(name)]
				fmt.Printf("%-22s %6.2f %8.2f %6.2f %10t %13t %10s\n",
					name, p.High, p.Confirm, p.Low, p.Cacheable, p.SideEffecting, p.RateLimit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Policy YAML file (defaults to POLICY_FILE)")
	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a policy YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			if _, err := router.LoadPolicyTable(file); err != nil {
				return fmt.Errorf("policy file is invalid: %w", err)
			}
			fmt.Println("Policy file is valid.")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Policy YAML file to validate (required)")
	return cmd
}
