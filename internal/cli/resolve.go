package cli

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devcontainers/cli-sub000/internal/devcontainer"
	"github.com/devcontainers/cli-sub000/internal/errors"
	"github.com/devcontainers/cli-sub000/internal/features"
	"github.com/devcontainers/cli-sub000/internal/util"
)

func newResolveCommand() *cobra.Command {
	var workspaceRoot string
	var configPath string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a devcontainer.json into a build plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, workspaceRoot, configPath)
		},
	}

	cmd.Flags().StringVar(&workspaceRoot, "workspace-folder", ".", "path to the workspace root")
	cmd.Flags().StringVar(&configPath, "config", "", "path to devcontainer.json (defaults to .devcontainer/devcontainer.json)")

	return cmd
}

func runResolve(cmd *cobra.Command, workspaceRoot, configPath string) error {
	ctx := cmd.Context()
	log := util.Slog()

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

	builder := devcontainer.NewBuilder(log)
	resolved, err := builder.Build(ctx, devcontainer.BuilderOptions{
		ConfigPath:    configPath,
		WorkspaceRoot: workspaceRoot,
		Config:        cfg,
	})
	if err != nil {
		return err
	}

	if features.HasFeatures(cfg.Features) {
		log.Debug("devcontainer declares features", slog.Int("count", len(cfg.Features)))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resolved)
}
