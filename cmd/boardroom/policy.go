package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/service"
)

func policyCmd(_ *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with consensus policy files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>...",
		Short: "Check policy YAML files, including their guardrail rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validatePolicies(cmd.OutOrStdout(), args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "presets",
		Short: "List the built-in policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, p := range policy.Presets() {
				if _, err := fmt.Fprintf(out, "%-18s %-10s threshold=%.2f roles=%d\n", p.Name, p.Mode, p.Threshold, len(p.RoleWeights)); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return cmd
}

// validatePolicies reports every file and fails if any is invalid.
func validatePolicies(out io.Writer, paths []string) error {
	guard, err := service.NewGuardrailService()
	if err != nil {
		return err
	}
	failed := 0
	for _, path := range paths {
		p, err := policy.LoadFromFile(path)
		if err == nil {
			err = guard.CheckRules(p)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s v%d, %s)\n", path, p.Name, p.Version, p.Mode)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d policies invalid", failed, len(paths))
	}
	return nil
}
