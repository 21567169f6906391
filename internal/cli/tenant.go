package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// TenantResult is the output of tenant commands.
type TenantResult struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Active bool   `json:"active"`
}

func (r TenantResult) String() string {
	state := "active"
	if !r.Active {
		state = "inactive"
	}
	if r.Name == "" {
		return fmt.Sprintf("tenant %s (%s)", r.ID, state)
	}
	return fmt.Sprintf("tenant %s %q (%s)", r.ID, r.Name, state)
}

// NewTenantCommand creates the tenant command group.
func NewTenantCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Provision and deactivate tenants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create an active tenant",
		Long: `Create an active tenant and print its id.

Examples:
  atsguard tenant create "Acme Corp"
  atsguard tenant create "Acme Corp" --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantCreate(rootOpts, cmd, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deactivate TENANT_ID",
		Short: "Deactivate a tenant",
		Long: `Deactivate a tenant. Its tokens stop authenticating and its data is
kept unchanged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenantDeactivate(rootOpts, cmd, args[0])
		},
	})

	return cmd
}

func runTenantCreate(opts *RootOptions, cmd *cobra.Command, name string) error {
	f := opts.formatter(cmd)
	svc, st, err := opts.openService()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	t, err := svc.CreateTenant(context.Background(), name)
	if err != nil {
		return f.Fail("tenant create", err)
	}
	return f.Success(TenantResult{ID: t.ID, Name: t.Name, Active: t.Active})
}

func runTenantDeactivate(opts *RootOptions, cmd *cobra.Command, id string) error {
	f := opts.formatter(cmd)
	svc, st, err := opts.openService()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	if err := svc.DeactivateTenant(context.Background(), id); err != nil {
		return f.Fail("tenant deactivate", err)
	}
	return f.Success(TenantResult{ID: id, Active: false})
}

// ActorOptions holds flags for actor create.
type ActorOptions struct {
	*RootOptions
	TenantID string
	Name     string
	Kind     string
	Roles    []string
}

// ActorResult is the output of actor create.
type ActorResult struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Kind     string   `json:"kind"`
	Roles    []string `json:"roles"`
}

func (r ActorResult) String() string {
	roles := "none"
	if len(r.Roles) > 0 {
		roles = strings.Join(r.Roles, ",")
	}
	return fmt.Sprintf("%s actor %s in tenant %s (roles: %s)", r.Kind, r.ID, r.TenantID, roles)
}

// NewActorCommand creates the actor command group.
func NewActorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Register a human or system actor in a tenant",
		Long: `Register an actor. Human actors act through roles (admin, reviewer,
recruiter); system actors represent integrations such as the automated
pipeline and may not clear review flags.

Examples:
  atsguard actor create --tenant T --name "Pipeline" --kind system
  atsguard actor create --tenant T --name "Ria" --kind human --role reviewer`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActorCreate(opts, cmd)
		},
	}
	create.Flags().StringVar(&opts.TenantID, "tenant", "", "tenant id (required)")
	_ = create.MarkFlagRequired("tenant")
	create.Flags().StringVar(&opts.Name, "name", "", "display name")
	create.Flags().StringVar(&opts.Kind, "kind", string(tenant.ActorHuman), "actor kind (human|system)")
	create.Flags().StringSliceVar(&opts.Roles, "role", nil, "role to grant (repeatable)")
	cmd.AddCommand(create)

	return cmd
}

func runActorCreate(opts *ActorOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	svc, st, err := opts.openService()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	a, err := svc.CreateActor(context.Background(), opts.TenantID, opts.Name, tenant.ActorKind(opts.Kind), opts.Roles)
	if err != nil {
		return f.Fail("actor create", err)
	}
	return f.Success(actorResult(a))
}

func actorResult(a store.Actor) ActorResult {
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	return ActorResult{ID: a.ID, TenantID: a.TenantID, Kind: a.Kind, Roles: roles}
}

// TokenOptions holds flags for token commands.
type TokenOptions struct {
	*RootOptions
	ActorID string
	TTL     time.Duration
}

// TokenResult is the output of token commands. Token is only set on issue.
type TokenResult struct {
	Token     string    `json:"token,omitempty"`
	Prefix    string    `json:"prefix"`
	ActorID   string    `json:"actor_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Revoked   bool      `json:"revoked,omitempty"`
}

func (r TokenResult) String() string {
	if r.Revoked {
		return fmt.Sprintf("token %s revoked", r.Prefix)
	}
	s := r.Token
	if !r.ExpiresAt.IsZero() {
		s += "\nexpires " + r.ExpiresAt.Format(time.RFC3339)
	}
	return s
}

// NewTokenCommand creates the token command group.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and revoke API tokens",
	}

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API token for an actor",
		Long: `Issue an API token. The raw token is printed once; only its bcrypt hash
is stored.

Examples:
  atsguard token issue --actor A
  atsguard token issue --actor A --ttl 720h`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(opts, cmd)
		},
	}
	issue.Flags().StringVar(&opts.ActorID, "actor", "", "actor id (required)")
	_ = issue.MarkFlagRequired("actor")
	issue.Flags().DurationVar(&opts.TTL, "ttl", -1, "token lifetime (default token.ttl, 0 for no expiry)")
	cmd.AddCommand(issue)

	cmd.AddCommand(&cobra.Command{
		Use:           "revoke TOKEN_OR_PREFIX",
		Short:         "Revoke an API token",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRevoke(opts, cmd, args[0])
		},
	})

	return cmd
}

func runTokenIssue(opts *TokenOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	svc, st, err := opts.openService()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	ttl := opts.TTL
	if ttl < 0 {
		ttl = opts.Config.Token.TTL
	}
	tok, err := svc.IssueToken(context.Background(), opts.ActorID, ttl, opts.Config.Token.BcryptCost)
	if err != nil {
		return f.Fail("token issue", err)
	}
	return f.Success(TokenResult{Token: tok.Raw, Prefix: tok.Prefix, ActorID: tok.ActorID, ExpiresAt: tok.ExpiresAt})
}

func runTokenRevoke(opts *TokenOptions, cmd *cobra.Command, tokenOrPrefix string) error {
	f := opts.formatter(cmd)
	svc, st, err := opts.openService()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	if err := svc.RevokeToken(context.Background(), tokenOrPrefix); err != nil {
		return f.Fail("token revoke", err)
	}
	prefix := tokenOrPrefix
	if p, _, err := tenant.ParseToken(tokenOrPrefix); err == nil {
		prefix = p
	}
	return f.Success(TokenResult{Prefix: prefix, Revoked: true})
}
