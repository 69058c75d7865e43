package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/kbfusion/configs"
	"github.com/Aman-CERP/kbfusion/internal/config"
	"github.com/Aman-CERP/kbfusion/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Show and create kbfusion configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/kbfusion/config.yaml)
  3. Project config (.kbfusion.yaml)
  4. Environment variables (KBFUSION_*)`,
		Example: `  # Create .kbfusion.yaml in the project root
  kbfusion config init

  # Show effective configuration (merged from all sources)
  kbfusion config show

  # Print the config file paths
  kbfusion config path`,
	}

	cmd.AddCommand(newConfigInitCmd(g))
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd(g))

	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var force, resolved bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the project configuration file",
		Long: `Create .kbfusion.yaml in the project root from a commented template.

--resolved writes the effective configuration instead (defaults, user file
and environment merged), without comments. An existing file is only
replaced with --force and is backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, g, force, resolved)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing configuration file")
	cmd.Flags().BoolVar(&resolved, "resolved", false, "Write the effective configuration instead of the template")

	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, as YAML
(or JSON with --format json).`,
		Example: `  kbfusion config show
  kbfusion config show --source defaults
  kbfusion config show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, g, source)
		},
	}

	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindProjectRoot(g.dir)
			if err != nil {
				return err
			}
			project := config.ProjectConfigPath(root)
			if project == "" {
				project = filepath.Join(root, config.ProjectConfigName) + " (not created)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user:    %s\n", config.GetUserConfigPath())
			fmt.Fprintf(cmd.OutOrStdout(), "project: %s\n", project)
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, g *globalOptions, force, resolved bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(g.dir)
	if err != nil {
		return err
	}
	path := filepath.Join(root, config.ProjectConfigName)

	if existing := config.ProjectConfigPath(root); existing != "" && !force {
		out.Warning("Project configuration already exists")
		out.Statusf("", "Location: %s", existing)
		out.Status("", "Use --force to replace it (a backup is kept)")
		return nil
	}

	if resolved {
		cfg, _, err := g.loadConfig()
		if err != nil {
			return err
		}
		// WriteYAML backs up the file it replaces.
		if err := cfg.WriteYAML(path); err != nil {
			return err
		}
	} else {
		if _, err := os.Stat(path); err == nil {
			backup, err := config.BackupFile(path)
			if err != nil {
				return err
			}
			out.Statusf("", "Backup: %s", backup)
		}
		if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	out.Success("Created project configuration")
	out.Statusf("", "Location: %s", path)
	out.Newline()
	out.Status("", "Next steps:")
	out.Status("", "  1. Edit the file to tune weights, timeouts and reranking")
	out.Status("", "  2. Run 'kbfusion config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, g *globalOptions, source string) error {
	var cfg *config.Config
	switch source {
	case "merged":
		c, _, err := g.loadConfig()
		if err != nil {
			return err
		}
		cfg = c
	case "defaults":
		cfg = config.NewConfig()
	default:
		return fmt.Errorf("unknown source %q (want merged or defaults)", source)
	}

	if w := g.writer(cmd); w.Format() == output.FormatJSON {
		return w.JSON(cfg)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
