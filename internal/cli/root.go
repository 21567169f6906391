package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/config"
	"github.com/roach88/atsguard/internal/logging"
	"github.com/roach88/atsguard/internal/matcher"
	"github.com/roach88/atsguard/internal/service"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// TokenEnv is read when --token is not given.
const TokenEnv = config.EnvPrefix + "_TOKEN"

// RootOptions holds global flags and the state loaded from them before any
// subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string
	Database   string // overrides database.dsn
	Token      string

	Config config.Config
	Logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the atsguard CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "atsguard",
		Short: "atsguard - tenant-isolated applicant tracking core",
		Long: `Operate the atsguard core: provision tenants and credentials, take in
candidates with duplicate detection, drive application and candidate status
transitions, and inspect the hash-chained audit trail.

Configuration is read from --config (YAML), a .env file and ATSGUARD_*
environment variables, e.g. ATSGUARD_DATABASE_DSN.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Logger != nil {
				_ = opts.Logger.Sync()
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load if present")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database DSN, overrides database.dsn")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "API token (default $"+TokenEnv+")")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTenantCommand(opts))
	cmd.AddCommand(NewActorCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewIntakeCommand(opts))
	cmd.AddCommand(NewTransitionCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))

	return cmd
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *RootOptions) load() error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	if err := config.LoadDotEnv(o.EnvFile); err != nil {
		return WrapExitError(ExitCommandError, "failed to load env file", err)
	}
	cfg, err := config.Load(viper.New(), o.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Database != "" {
		cfg.Database.DSN = o.Database
	}
	o.Config = cfg

	logger, err := logging.New(cfg.Log.JSON, cfg.Log.Debug || o.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	o.Logger = logger
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the configured database and applies pending migrations.
func (o *RootOptions) openStore() (*store.Store, error) {
	db := o.Config.Database
	st, err := store.OpenDialect(db.Driver, db.DSN, db.MaxOpenConns, store.WithLogger(o.Logger.Named("store")))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openService opens the store and builds the service on top of it. The
// caller closes the returned store.
func (o *RootOptions) openService() (*service.Service, *store.Store, error) {
	st, err := o.openStore()
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(st,
		service.WithMatcher(matcher.New(o.Config.MatcherConfig())),
		service.WithLogger(o.Logger.Named("service")),
	)
	return svc, st, nil
}

// resolve authenticates --token (or $ATSGUARD_TOKEN) into a tenant scope.
func (o *RootOptions) resolve(ctx context.Context, svc *service.Service, f *OutputFormatter) (tenant.Scope, error) {
	token := strings.TrimSpace(o.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
	if token == "" {
		_ = f.Error(ErrCodeAuth, "an API token is required (--token or $"+TokenEnv+")", nil)
		return tenant.Scope{}, NewExitError(ExitFailure, "missing token")
	}
	scope, err := svc.Resolve(ctx, token)
	if err != nil {
		return tenant.Scope{}, f.Fail("authenticate", err)
	}
	f.VerboseLog("acting as %s actor %s in tenant %s", scope.Actor().Kind, scope.Actor().ID, scope.TenantID())
	return scope, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
