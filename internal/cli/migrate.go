package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult reports the schema state after migration.
type MigrateResult struct {
	Driver        string `json:"driver"`
	SchemaVersion int    `json:"schema_version"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("✓ %s schema at version %d", r.Driver, r.SchemaVersion)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Open the configured database, apply any pending schema migrations and
report the resulting schema version. Migrations are idempotent.

Examples:
  atsguard migrate --db ./atsguard.db
  ATSGUARD_DATABASE_DRIVER=postgres ATSGUARD_DATABASE_DSN=postgres://... atsguard migrate`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	st, err := opts.openStore()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion(context.Background())
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}
	return f.Success(MigrateResult{Driver: st.Dialect(), SchemaVersion: version})
}
