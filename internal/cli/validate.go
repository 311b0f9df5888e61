package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/certsync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                `json:"valid"`
	File   string              `json:"file"`
	Errors []config.FieldError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a config file against the schema",
		Long: `Check a CUE or JSON config file against the certsync schema without
starting anything. Environment overrides are not applied.

Exit codes:
  0 - Config is valid
  1 - Config has schema violations
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	f.VerboseLog("Validating %s (%d bytes)", path, len(data))

	errs := config.Validate(data, path)
	result := ValidationResult{Valid: len(errs) == 0, File: path, Errors: errs}

	if result.Valid {
		if f.JSON() {
			return f.Success(result)
		}
		f.Textf("✓ %s is valid", path)
		return nil
	}

	if f.JSON() {
		if err := f.Error(ErrCodeInvalidConfig, fmt.Sprintf("%d schema violation(s)", len(errs)), result); err != nil {
			return err
		}
	} else {
		f.Textf("✗ %s: %d schema violation(s)", path, len(errs))
		for _, e := range errs {
			if e.Path != "" {
				f.Textf("  %s: %s", e.Path, e.Error())
			} else {
				f.Textf("  %s", e.Error())
			}
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("invalid config: %s", path))
}
