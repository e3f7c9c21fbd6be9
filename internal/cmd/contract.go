package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/logging"
)

var contractCmd = &cobra.Command{
	Use:   "contract <description>",
	Short: "Preview the verification contract and fallback chain for a task",
	Long: `Print the verification contract that would be generated for a task,
together with the fallback category and executor chain its artifacts
resolve to. Generation is deterministic, so the preview is exactly what
"handoff run" will use.

Examples:
  handoff contract "Add input validation to signup form" -a SignupForm.ui
  handoff contract "Update README" --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runContract,
}

var (
	contractArtifacts []string
	contractFormat    string
)

func init() {
	contractCmd.Flags().StringSliceVarP(&contractArtifacts, "artifact", "a", nil, "expected artifact path (repeatable)")
	contractCmd.Flags().StringVar(&contractFormat, "format", "yaml", "output format (yaml/json)")
}

// contractPreview is the output of the contract command.
type contractPreview struct {
	Contract *contract.Contract `json:"contract" yaml:"contract"`
	Category fallback.Category  `json:"category" yaml:"category"`
	Chain    []string           `json:"chain" yaml:"chain"`
}

func runContract(cmd *cobra.Command, args []string) error {
	if contractFormat != "yaml" && contractFormat != "json" {
		return fmt.Errorf("invalid format %q (valid: yaml, json)", contractFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	baseDir, err := projectDir()
	if err != nil {
		return err
	}
	preview, err := previewContract(cfg, baseDir, args[0], contractArtifacts)
	if err != nil {
		return err
	}
	return writePreview(cmd.OutOrStdout(), preview, contractFormat)
}

func previewContract(cfg *config.Config, baseDir, description string, artifacts []string) (contractPreview, error) {
	engine, err := contract.NewEngine()
	if err != nil {
		return contractPreview{}, fmt.Errorf("failed to create contract engine: %w", err)
	}
	defer engine.Close()

	resolver, err := fallback.NewResolver(cfg.Fallback.Patterns(), cfg.Fallback.ChainMap(), logging.NopLogger())
	if err != nil {
		return contractPreview{}, fmt.Errorf("failed to compile fallback categories: %w", err)
	}
	if cfg.Fallback.OverridesFile != "" {
		project, err := config.LoadOverrides(config.ResolvePath(cfg.Fallback.OverridesFile, baseDir))
		if err != nil {
			return contractPreview{}, err
		}
		resolver.SetProjectOverrides(project)
	}

	category, chain := resolver.Resolve(artifacts)
	return contractPreview{
		Contract: engine.Generate(description, artifacts),
		Category: category,
		Chain:    chain,
	}, nil
}

func writePreview(w io.Writer, p contractPreview, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
