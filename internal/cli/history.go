package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/atsguard/internal/store"
)

// HistoryOptions holds flags for history and verify.
type HistoryOptions struct {
	*RootOptions
	SubjectOptions
}

// HistoryEntry is one audit record in command output.
type HistoryEntry struct {
	Seq        int64     `json:"seq"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	ActorID    string    `json:"actor_id"`
	ActorKind  string    `json:"actor_kind"`
	Reason     string    `json:"reason,omitempty"`
	Terminal   bool      `json:"terminal"`
	OccurredAt time.Time `json:"occurred_at"`
	Hash       string    `json:"hash"`
}

// HistoryResult is the output of the history command.
type HistoryResult struct {
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Entries     []HistoryEntry `json:"entries"`
}

func (r HistoryResult) String() string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("No transitions recorded for %s %s.", r.SubjectType, r.SubjectID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.SubjectType, r.SubjectID)
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  #%d %s  %s → %s  by %s %s",
			e.Seq, e.OccurredAt.Format(time.RFC3339), e.OldStatus, e.NewStatus, e.ActorKind, e.ActorID)
		if e.Reason != "" {
			fmt.Fprintf(&b, "  (%s)", e.Reason)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Records     int    `json:"records"`
	Intact      bool   `json:"intact"`
	BrokenSeq   int64  `json:"broken_seq,omitempty"`
	Problem     string `json:"problem,omitempty"`
}

func (r VerifyResult) String() string {
	if r.Intact {
		return fmt.Sprintf("✓ %s %s: %d record(s), chain intact", r.SubjectType, r.SubjectID, r.Records)
	}
	return fmt.Sprintf("✗ %s %s: chain broken at seq %d: %s", r.SubjectType, r.SubjectID, r.BrokenSeq, r.Problem)
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the audit trail of an application or candidate",
		Long: `List the recorded transitions of one subject in sequence order.

Examples:
  atsguard history --id APP
  atsguard history --subject candidate --id C --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}
	opts.SubjectOptions.bind(cmd)
	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of a subject's audit trail",
		Long: `Recompute the hash chain of one subject's audit records and report the
first record that does not verify.

Exit codes:
  0 - Chain intact
  1 - Chain broken or request refused
  2 - Command error

Examples:
  atsguard verify --id APP`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}
	opts.SubjectOptions.bind(cmd)
	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
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
	recs, err := svc.History(ctx, scope, subject)
	if err != nil {
		return f.Fail("history", err)
	}

	result := HistoryResult{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Entries:     make([]HistoryEntry, 0, len(recs)),
	}
	for _, r := range recs {
		result.Entries = append(result.Entries, historyEntry(r))
	}
	return f.Success(result)
}

func historyEntry(r store.TransitionRecord) HistoryEntry {
	return HistoryEntry{
		Seq:        r.Seq,
		OldStatus:  r.OldStatus,
		NewStatus:  r.NewStatus,
		ActorID:    r.ActorID,
		ActorKind:  r.ActorKind,
		Reason:     r.Reason,
		Terminal:   r.Terminal,
		OccurredAt: r.OccurredAt,
		Hash:       r.Hash,
	}
}

func runVerify(opts *HistoryOptions, cmd *cobra.Command) error {
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
	report, err := svc.VerifyHistory(ctx, scope, subject)
	if err != nil {
		return f.Fail("verify", err)
	}

	result := VerifyResult{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Records:     report.Records,
		Intact:      report.Intact,
		BrokenSeq:   report.BrokenSeq,
		Problem:     report.Problem,
	}
	if !report.Intact {
		_ = f.Error(ErrCodeChainBroken, result.String(), result)
		return NewExitError(ExitFailure, "audit chain broken")
	}
	return f.Success(result)
}
