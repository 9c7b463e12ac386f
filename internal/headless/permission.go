package headless

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/opencode-ai/agentcore/internal/permission"
)

// AutoApprover answers every prompt with "once". Rules that deny still deny;
// only ASK verdicts reach an approver.
var AutoApprover = permission.PolicyApprover{Default: permission.ResponseOnce}

// TerminalApprover asks the user on a terminal.
type TerminalApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalApprover creates an approver that prompts on out and reads the
// answer from in.
func NewTerminalApprover(in io.Reader, out io.Writer) *TerminalApprover {
	return &TerminalApprover{in: bufio.NewReader(in), out: out}
}

// RequestApproval prompts until it reads a valid answer, the input ends or
// ctx is done. End of input rejects.
func (a *TerminalApprover) RequestApproval(ctx context.Context, req permission.Request) (permission.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	subject := req.Title
	if subject == "" {
		subject = strings.Join(req.Patterns, ", ")
	}
	for {
		fmt.Fprintf(a.out, "\n[permission] %s: %s\nAllow? [y]es once / [a]lways / [n]o: ", req.Tool, subject)

		line, err := a.readLine(ctx)
		if err != nil {
			fmt.Fprintln(a.out)
			if err == io.EOF {
				return permission.ResponseReject, nil
			}
			return "", err
		}
		if resp, ok := parseAnswer(line); ok {
			return resp, nil
		}
	}
}

// readLine reads one line without outliving ctx. An abandoned read is left
// to finish in the background.
func (a *TerminalApprover) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{line, err}
	}()
	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func parseAnswer(line string) (permission.Response, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "once":
		return permission.ResponseOnce, true
	case "a", "always":
		return permission.ResponseAlways, true
	case "n", "no", "reject":
		return permission.ResponseReject, true
	}
	return "", false
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SelectApprover picks how ASK verdicts are answered: automatically when
// autoApprove is set, on the terminal when stdin is one, and not at all
// otherwise, which denies them.
func SelectApprover(autoApprove bool, stdin *os.File, out io.Writer) permission.Approver {
	switch {
	case autoApprove:
		return AutoApprover
	case stdin != nil && IsTerminal(stdin):
		return NewTerminalApprover(stdin, out)
	default:
		return nil
	}
}
