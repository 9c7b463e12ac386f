package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/headless"
)

var (
	runModel       string
	runAgent       string
	runContinue    bool
	runSession     string
	runFormat      string
	runFiles       []string
	runTitle       string
	runDir         string
	runTimeout     time.Duration
	runStdin       bool
	runQuiet       bool
	runVerbose     bool
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run a prompt against a session",
	Long: `Run a single prompt through the agent loop and print the outcome.

Tool calls that need approval are asked on the terminal. When stdin is
not a terminal they are denied unless --yes is given.

Exit codes:
  0    success
  1    error
  2    timeout
  3    step limit reached
  4    provider error
  5    invalid input
  6    session not found
  130  aborted

Examples:
  opencode run "Fix the bug in main.go"
  opencode run --model anthropic/claude-sonnet-4 "Explain this code"
  opencode run --continue "Now add tests"
  opencode run --file main.go "Review this file"
  echo "Fix linting errors" | opencode run --stdin --yes
  opencode run --format jsonl "Implement feature X" | jq -r '.type'`,
	RunE: runPrompt,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "Agent to use")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the last session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVarP(&runFormat, "format", "o", "text", "Output format: text, json, jsonl")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Session title")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 30*time.Minute, "Maximum execution time (0 for none)")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read prompt from stdin")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress output, only show result")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show all events (with jsonl format)")
	runCmd.Flags().BoolVarP(&runAutoApprove, "yes", "y", false, "Approve every tool call that asks")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Alias for --yes")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The terminal approver reads answers from stdin, which --stdin consumes.
	approverIn := os.Stdin
	if runStdin {
		approverIn = nil
	}
	rt, err := bootstrap(ctx, workDir, headless.SelectApprover(runAutoApprove, approverIn, os.Stderr))
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := &headless.Config{
		Prompt:       strings.Join(args, " "),
		WorkDir:      workDir,
		OutputFormat: headless.OutputFormat(runFormat),
		Timeout:      runTimeout,
		SessionID:    runSession,
		ContinueLast: runContinue,
		Files:        runFiles,
		Quiet:        runQuiet,
		Verbose:      runVerbose,
		Model:        runModel,
		Agent:        runAgent,
		Title:        runTitle,
	}
	if runStdin {
		cfg.Stdin = os.Stdin
	}

	result, err := headless.NewRunner(cfg, rt.sessions).Run(ctx, os.Stdout)
	if result != nil && result.ExitCode != headless.ExitSuccess {
		return &ExitError{Code: int(result.ExitCode)}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
