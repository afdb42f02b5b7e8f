package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devcontainers/cli-sub000/internal/devcontainer"
	"github.com/devcontainers/cli-sub000/internal/errors"
	"github.com/devcontainers/cli-sub000/internal/features"
	"github.com/devcontainers/cli-sub000/internal/lockfile"
)

func newOutdatedCommand() *cobra.Command {
	var workspaceRoot string
	var configPath string

	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "Report locked feature versions against the registry's published tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutdated(cmd.Context(), workspaceRoot, configPath)
		},
	}

	cmd.Flags().StringVar(&workspaceRoot, "workspace-folder", ".", "path to the workspace root")
	cmd.Flags().StringVar(&configPath, "config", "", "path to devcontainer.json (defaults to .devcontainer/devcontainer.json)")

	return cmd
}

func runOutdated(ctx context.Context, workspaceRoot, configPath string) error {
	workspaceRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = filepath.Join(workspaceRoot, ".devcontainer", "devcontainer.json")
	}

	cfg, err := devcontainer.ParseFile(configPath)
	if err != nil {
		return errors.ConfigParse(configPath, err)
	}

	lf, _, err := lockfile.Load(configPath)
	if err != nil {
		return err
	}

	manager, err := features.NewManager(filepath.Dir(configPath))
	if err != nil {
		return err
	}

	resolved, err := manager.ResolveAll(ctx, cfg.Features, cfg.OverrideFeatureInstallOrder)
	if err != nil {
		return err
	}

	report, err := features.Outdated(ctx, manager.Resolver(), resolved, lf)
	if err != nil {
		return err
	}

	for _, entry := range report {
		fmt.Printf("%s: current=%s wanted=%s wantedMajor=%s latest=%s latestMajor=%s\n",
			entry.FeatureID, entry.Current, entry.Wanted, entry.WantedMajor, entry.Latest, entry.LatestMajor)
	}

	return nil
}

func newUpgradeCommand() *cobra.Command {
	var workspaceRoot string
	var configPath string
	var featureID string
	var targetVersion string

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Rewrite a feature's declared version and refresh the lockfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd.Context(), workspaceRoot, configPath, featureID, targetVersion)
		},
	}

	cmd.Flags().StringVar(&workspaceRoot, "workspace-folder", ".", "path to the workspace root")
	cmd.Flags().StringVar(&configPath, "config", "", "path to devcontainer.json (defaults to .devcontainer/devcontainer.json)")
	cmd.Flags().StringVar(&featureID, "feature", "", "feature id to upgrade (required)")
	cmd.Flags().StringVar(&targetVersion, "target-version", "", "version to pin the feature to (required)")
	_ = cmd.MarkFlagRequired("feature")
	_ = cmd.MarkFlagRequired("target-version")

	return cmd
}

func runUpgrade(ctx context.Context, workspaceRoot, configPath, featureID, targetVersion string) error {
	workspaceRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = filepath.Join(workspaceRoot, ".devcontainer", "devcontainer.json")
	}

	cfg, err := devcontainer.ParseFile(configPath)
	if err != nil {
		return errors.ConfigParse(configPath, err)
	}

	mutatedFeatures, err := features.UpgradeFeatureVersion(cfg.Features, featureID, targetVersion)
	if err != nil {
		return err
	}
	cfg.Features = mutatedFeatures

	manager, err := features.NewManager(filepath.Dir(configPath))
	if err != nil {
		return err
	}

	resolved, err := manager.ResolveAll(ctx, cfg.Features, cfg.OverrideFeatureInstallOrder)
	if err != nil {
		return err
	}

	existing, _, err := lockfile.Load(configPath)
	if err != nil {
		return err
	}

	lf, _, err := features.PlanLockfile(resolved, existing, features.LockModeWrite)
	if err != nil {
		return err
	}
	if err := lf.Save(configPath); err != nil {
		return err
	}

	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Printf("upgraded %s to %s\n", featureID, targetVersion)
	return nil
}
