package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/atsguard/internal/matcher"
	"github.com/roach88/atsguard/internal/service"
)

// IntakeOptions holds flags for the intake command.
type IntakeOptions struct {
	*RootOptions
	File     string
	JobTitle string
}

// IntakeOutput wraps service.IntakeResult for text output.
type IntakeOutput struct {
	service.IntakeResult
}

func (o IntakeOutput) String() string {
	var b strings.Builder
	if o.Decision == matcher.DecisionFlagged {
		fmt.Fprintf(&b, "⚠ application %s flagged for review: %s\n", o.ApplicationID, o.Reason)
	} else {
		fmt.Fprintf(&b, "✓ application %s created\n", o.ApplicationID)
	}
	if o.ReusedCandidate {
		fmt.Fprintf(&b, "  candidate %s (existing)", o.CandidateID)
	} else {
		fmt.Fprintf(&b, "  candidate %s (new)", o.CandidateID)
	}
	return b.String()
}

// NewIntakeCommand creates the intake command.
func NewIntakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IntakeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Take in a candidate application with duplicate detection",
		Long: `Read a proposed candidate (JSON or YAML) and create the application in the
token's tenant. A likely duplicate of an existing candidate creates the
application flagged for review; the existing candidate is left untouched.

Payload fields: full_name, email, phone, skills, experience, ctc_current,
ctc_expected, job_title.

Exit codes:
  0 - Application created (clean or flagged)
  1 - Request refused (authentication, invalid input)
  2 - Command error (unreadable payload, database unavailable)

Examples:
  atsguard intake --token $TOKEN --file jane.yaml
  cat jane.json | atsguard intake --file - --job "Backend Engineer"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIntake(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "payload file, - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&opts.JobTitle, "job", "", "job title, overrides the payload")

	return cmd
}

func runIntake(opts *IntakeOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := opts.formatter(cmd)

	req, err := readIntakeRequest(opts.File, cmd.InOrStdin())
	if err != nil {
		_ = f.Error(ErrCodeBadInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}
	if opts.JobTitle != "" {
		req.JobTitle = opts.JobTitle
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
	res, err := svc.Intake(ctx, scope, req)
	if err != nil {
		return f.Fail("intake", err)
	}
	return f.Success(IntakeOutput{res})
}

// readIntakeRequest decodes a JSON or YAML payload. JSON is valid YAML, so
// one decoder serves both.
func readIntakeRequest(path string, stdin io.Reader) (service.IntakeRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return service.IntakeRequest{}, err
	}

	var req service.IntakeRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return service.IntakeRequest{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return req, nil
}
