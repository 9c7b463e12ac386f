package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// Runner executes one prompt against a session and reports the outcome.
type Runner struct {
	config  *Config
	svc     *session.Service
	printer *Printer
}

// NewRunner creates a new headless runner.
func NewRunner(cfg *Config, svc *session.Service) *Runner {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = OutputText
	}
	return &Runner{
		config: cfg,
		svc:    svc,
	}
}

// Run executes the prompt and returns the result. The error is non-nil
// whenever the result's exit code is.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	r.printer = NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose)
	r.printer.Subscribe(r.svc.Bus())
	defer r.printer.Unsubscribe()

	fail := func(status string, code ExitCode, err error) (*Result, error) {
		r.printer.SetResult(status, code, "", err)
		r.printer.PrintFinalResult()
		return r.printer.GetResult(), err
	}

	if !r.config.OutputFormat.Valid() {
		return fail("error", ExitInvalidInput, fmt.Errorf("unknown output format %q", r.config.OutputFormat))
	}

	prompt, err := r.getPrompt()
	if err != nil {
		return fail("error", ExitInvalidInput, err)
	}
	if prompt == "" && len(r.config.Files) == 0 {
		return fail("error", ExitInvalidInput, errors.New("prompt is required"))
	}

	sess, err := r.getOrCreateSession(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fail("error", ExitSessionNotFound, err)
		}
		return fail("error", ExitError, err)
	}
	r.printer.SetSessionID(sess.ID)
	switch {
	case r.config.Model != "":
		r.printer.SetModel(r.config.Model)
	case sess.Model != nil:
		r.printer.SetModel(sess.Model.String())
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	files := make([]session.FileInput, 0, len(r.config.Files))
	for _, f := range r.config.Files {
		files = append(files, session.FileInput{Path: f})
	}

	res, err := r.svc.Run(runCtx, session.RunInput{
		SessionID: sess.ID,
		Text:      prompt,
		Files:     files,
		Agent:     r.config.Agent,
		Model:     r.config.Model,
	})

	status, code := classify(runCtx, err)
	r.printer.SetResult(status, code, finalText(res), err)
	r.printer.PrintFinalResult()
	return r.printer.GetResult(), err
}

// classify maps a run error onto a status and exit code.
func classify(runCtx context.Context, err error) (string, ExitCode) {
	var (
		limit   *session.OutputLimitError
		provErr *provider.Error
	)
	switch {
	case err == nil:
		return "success", ExitSuccess
	case errors.Is(err, types.ErrAborted) && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return "timeout", ExitTimeout
	case errors.Is(err, types.ErrAborted):
		return "aborted", ExitAborted
	case errors.As(err, &limit) && limit.Truncated:
		return "truncated", ExitStepLimit
	case errors.As(err, &limit):
		return "step_limit", ExitStepLimit
	case errors.As(err, &provErr):
		return "error", ExitProviderError
	case errors.Is(err, session.ErrEmptyMessage):
		return "error", ExitInvalidInput
	case errors.Is(err, storage.ErrNotFound):
		return "error", ExitSessionNotFound
	default:
		return "error", ExitError
	}
}

// finalText returns the text of the last text part of res.
func finalText(res *types.MessageWithParts) string {
	if res == nil {
		return ""
	}
	for i := len(res.Parts) - 1; i >= 0; i-- {
		if t, ok := res.Parts[i].(*types.TextPart); ok && t.Text != "" {
			return t.Text
		}
	}
	return ""
}

// getPrompt combines the prompt with whatever Stdin holds.
func (r *Runner) getPrompt() (string, error) {
	prompt := r.config.Prompt

	if r.config.Stdin != nil {
		data, err := io.ReadAll(r.config.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if in := strings.TrimSpace(string(data)); in != "" {
			if prompt != "" {
				prompt = prompt + "\n\n" + in
			} else {
				prompt = in
			}
		}
	}

	return strings.TrimSpace(prompt), nil
}

// getOrCreateSession gets an existing session or creates a new one.
func (r *Runner) getOrCreateSession(ctx context.Context) (*types.Session, error) {
	if r.config.SessionID != "" {
		sess, err := r.svc.Get(ctx, r.config.SessionID)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", r.config.SessionID, err)
		}
		return sess, nil
	}

	if r.config.ContinueLast {
		sessions, err := r.svc.List(ctx, storage.ListOptions{ProjectID: session.ProjectID(r.config.WorkDir)})
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		var last *types.Session
		for _, s := range sessions {
			if last == nil || s.Time.Updated > last.Time.Updated {
				last = s
			}
		}
		if last != nil {
			return last, nil
		}
		// No existing sessions, create new
	}

	title := r.config.Title
	if title == "" {
		title = "Headless session - " + time.Now().Format(time.DateTime)
	}
	return r.svc.Create(ctx, session.CreateInput{
		Directory: r.config.WorkDir,
		Title:     title,
	})
}
