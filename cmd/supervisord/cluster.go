package main

import (
	"fmt"

	"github.com/cybergis/compute-supervisor/internal/config"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster configuration utilities",
}

var clusterValidateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate a cluster configuration file without starting the supervisor",
	RunE:  runClusterValidateConfig,
}

func init() {
	clusterValidateConfigCmd.Flags().String("config", "supervisor.yaml", "Path to the cluster configuration file")
	clusterCmd.AddCommand(clusterValidateConfigCmd)
}

func runClusterValidateConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: %d cluster(s), %d maintainer variant(s)\n", len(cfg.HPCs), len(cfg.Maintainers))
	for name, hpc := range cfg.HPCs {
		fmt.Printf("  %s: capacity=%d community_account=%t root=%s\n", name, hpc.JobPoolCapacity, hpc.IsCommunityAccount, hpc.RootPath)
	}
	return nil
}
