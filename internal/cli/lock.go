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

func newLockCommand() *cobra.Command {
	var workspaceRoot string
	var configPath string
	var write bool
	var frozen bool

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Resolve features and verify or update devcontainer-lock.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd.Context(), workspaceRoot, configPath, write, frozen)
		},
	}

	cmd.Flags().StringVar(&workspaceRoot, "workspace-folder", ".", "path to the workspace root")
	cmd.Flags().StringVar(&configPath, "config", "", "path to devcontainer.json (defaults to .devcontainer/devcontainer.json)")
	cmd.Flags().BoolVar(&write, "write", false, "write the resolved lockfile to disk instead of only verifying")
	cmd.Flags().BoolVar(&frozen, "experimental-frozen-lockfile", false, "fail instead of writing if the resolved graph disagrees with the existing lockfile")

	return cmd
}

func runLock(ctx context.Context, workspaceRoot, configPath string, write, frozen bool) error {
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

	existing, _, err := lockfile.Load(configPath)
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

	if frozen {
		if _, _, err := features.PlanLockfile(resolved, existing, features.LockModeFrozen); err != nil {
			return err
		}
		fmt.Println("devcontainer-lock.json matches the resolved features")
		return nil
	}

	lf, mismatches, err := features.PlanLockfile(resolved, existing, features.LockModeWrite)
	if err != nil {
		return err
	}

	if write {
		if err := lf.Save(configPath); err != nil {
			return err
		}
		fmt.Println("wrote", lockfile.GetPath(configPath))
		return nil
	}

	if features.IsOutdated(mismatches) {
		for _, m := range mismatches {
			fmt.Printf("%s: %s: %s\n", m.Type, m.FeatureID, m.Message)
		}
		return fmt.Errorf("devcontainer-lock.json is out of date; rerun with --write")
	}

	fmt.Println("devcontainer-lock.json is up to date")
	return nil
}
