package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flumehq/flume/internal/provider"
	"github.com/flumehq/flume/pkg/models"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their fallback chains",
	RunE:  runProviders,
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	defer reg.Teardown()

	fmt.Println(color.CyanString("Providers:"))
	for _, id := range reg.IDs() {
		desc, err := reg.Descriptor(id)
		if err != nil {
			continue
		}
		fmt.Printf("  %-16s tier=%-9s cost/unit=%.4f\n", desc.ID, desc.Tier, desc.CostPerUnit)
	}

	fmt.Printf("\n%s (cross-tier fallback: %v)\n", color.CyanString("Chains by minimum tier:"), cfg.Executor.CrossTier)
	for _, tier := range models.TierOrder {
		chain, err := provider.BuildChain(reg, tier, cfg.Executor.CrossTier)
		if err != nil {
			fmt.Printf("  %-9s %s\n", tier, color.New(color.Faint).Sprint("(no providers)"))
			continue
		}
		fmt.Printf("  %-9s %v\n", tier, chain.ProviderIDs)
	}
	return nil
}
