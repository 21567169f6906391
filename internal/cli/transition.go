package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/atsguard/internal/audit"
	"github.com/roach88/atsguard/internal/fsm"
)

// SubjectOptions selects one audited subject.
type SubjectOptions struct {
	SubjectType string
	SubjectID   string
}

func (s *SubjectOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.SubjectType, "subject", audit.SubjectApplication, "subject type (application|candidate)")
	cmd.Flags().StringVar(&s.SubjectID, "id", "", "subject id (required)")
	_ = cmd.MarkFlagRequired("id")
}

func (s *SubjectOptions) subject() (audit.Subject, error) {
	switch s.SubjectType {
	case audit.SubjectApplication, audit.SubjectCandidate:
		return audit.Subject{Type: s.SubjectType, ID: s.SubjectID}, nil
	default:
		return audit.Subject{}, fmt.Errorf("unknown subject type %q: must be %s or %s",
			s.SubjectType, audit.SubjectApplication, audit.SubjectCandidate)
	}
}

// TransitionOptions holds flags for the transition command.
type TransitionOptions struct {
	*RootOptions
	SubjectOptions
	From   string
	To     string
	Reason string
}

// TransitionResult is the output of a committed transition.
type TransitionResult struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Seq         int64  `json:"seq"`
	Terminal    bool   `json:"terminal"`
	Hash        string `json:"hash"`
}

func (r TransitionResult) String() string {
	s := fmt.Sprintf("✓ %s %s: %s → %s (seq %d)", r.SubjectType, r.SubjectID, r.From, r.To, r.Seq)
	if r.Terminal {
		s += " [terminal]"
	}
	return s
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransitionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Move an application or candidate to a new status",
		Long: `Request a status transition. The request names the status the caller
believes the subject is in (--from); the transition is refused as stale when
another writer got there first.

Exit codes:
  0 - Transition committed and audited
  1 - Transition refused (stale, invalid, terminal, flagged, not found)
  2 - Command error

Examples:
  atsguard transition --id APP --from SCREENING --to INTERVIEW_SCHEDULED
  atsguard transition --subject candidate --id C --from JOINED --to LEFT_COMPANY --reason "resigned"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(opts, cmd)
		},
	}

	opts.SubjectOptions.bind(cmd)
	cmd.Flags().StringVar(&opts.From, "from", "", "expected current status (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().StringVar(&opts.To, "to", "", "target status (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the audit log")

	return cmd
}

func runTransition(opts *TransitionOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	subject, err := opts.subject()
	if err != nil {
		_ = f.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid subject", err)
	}

	svc, st, err := opts.openService()
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	defer st.Close()

	scope, err := opts.resolve(ctx, svc, f)
	if err != nil {
		return err
	}
	res, err := svc.Transition(ctx, scope, fsm.Request{
		Subject:      subject,
		FromExpected: strings.ToUpper(strings.TrimSpace(opts.From)),
		To:           strings.ToUpper(strings.TrimSpace(opts.To)),
		Reason:       opts.Reason,
	})
	if err != nil {
		return f.Fail("transition", err)
	}
	return f.Success(TransitionResult{
		SubjectType: res.SubjectType,
		SubjectID:   res.SubjectID,
		From:        res.From,
		To:          res.To,
		Seq:         res.Seq,
		Terminal:    res.Terminal,
		Hash:        res.Record.Hash,
	})
}
