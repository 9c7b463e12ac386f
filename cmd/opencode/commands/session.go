package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/session"
	"github.com/opencode-ai/agentcore/internal/storage"
	"github.com/opencode-ai/agentcore/pkg/types"
)

var (
	sessionDir      string
	sessionJSON     bool
	sessionAll      bool
	sessionArchived bool
	sessionMessage  string
	sessionModel    string
	sessionKeep     int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions of the working directory",
	RunE:    runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <sessionID>",
	Short: "Delete a session and its forks",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

var sessionForkCmd = &cobra.Command{
	Use:   "fork <sessionID>",
	Short: "Fork a session, optionally up to a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionFork,
}

var sessionUsageCmd = &cobra.Command{
	Use:   "usage <sessionID>",
	Short: "Show token usage and cost of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionUsage,
}

var sessionCompactCmd = &cobra.Command{
	Use:   "compact <sessionID>",
	Short: "Summarize the older part of a session",
	Long: `Compact asks the model to summarize all but the most recent messages of
a session. Later runs send the summary in place of the messages it covers;
the stored history is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionCompact,
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionDir, "directory", "", "Working directory")
	sessionCmd.PersistentFlags().BoolVar(&sessionJSON, "json", false, "Print JSON")

	sessionListCmd.Flags().BoolVarP(&sessionAll, "all", "a", false, "Include sessions of every directory")
	sessionListCmd.Flags().BoolVar(&sessionArchived, "archived", false, "Include archived sessions")
	sessionForkCmd.Flags().StringVar(&sessionMessage, "message", "", "Last message to copy (default: whole history)")
	sessionCompactCmd.Flags().StringVarP(&sessionModel, "model", "m", "", "Summarizer model (provider/model)")
	sessionCompactCmd.Flags().IntVar(&sessionKeep, "keep", session.DefaultKeepMessages, "Recent messages to keep verbatim")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionForkCmd)
	sessionCmd.AddCommand(sessionUsageCmd)
	sessionCmd.AddCommand(sessionCompactCmd)
}

// withSessions opens the store for the working directory and hands a
// service without a loop processor to fn.
func withSessions(fn func(svc *session.Service, workDir string) error) error {
	workDir, err := GetWorkDir(sessionDir)
	if err != nil {
		return err
	}
	store, _, err := openStore(workDir)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(session.NewService(store, nil), workDir)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	return withSessions(func(svc *session.Service, workDir string) error {
		opts := storage.ListOptions{IncludeArchived: sessionArchived}
		if !sessionAll {
			opts.ProjectID = session.ProjectID(workDir)
		}
		sessions, err := svc.List(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if sessionJSON {
			return printJSON(os.Stdout, sessions)
		}
		return printSessions(os.Stdout, sessions)
	})
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	return withSessions(func(svc *session.Service, _ string) error {
		if err := svc.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session: %s\n", args[0])
		return nil
	})
}

func runSessionFork(cmd *cobra.Command, args []string) error {
	return withSessions(func(svc *session.Service, _ string) error {
		fork, err := svc.Fork(cmd.Context(), args[0], sessionMessage)
		if err != nil {
			return err
		}
		if sessionJSON {
			return printJSON(os.Stdout, fork)
		}
		fmt.Printf("Forked %s into %s (%s)\n", args[0], fork.ID, fork.Title)
		return nil
	})
}

func runSessionUsage(cmd *cobra.Command, args []string) error {
	return withSessions(func(svc *session.Service, _ string) error {
		usage, err := svc.Usage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sessionJSON {
			return printJSON(os.Stdout, usage)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INPUT\tOUTPUT\tREASONING\tCACHE READ\tCACHE WRITE\tCOST\t")
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t$%.4f\t\n",
			usage.Tokens.Input,
			usage.Tokens.Output,
			usage.Tokens.Reasoning,
			usage.Tokens.Cache.Read,
			usage.Tokens.Cache.Write,
			usage.Cost,
		)
		return w.Flush()
	})
}

func runSessionCompact(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(sessionDir)
	if err != nil {
		return err
	}
	rt, err := bootstrap(cmd.Context(), workDir, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.sessions.Compact(cmd.Context(), session.CompactInput{
		SessionID: args[0],
		Model:     sessionModel,
		Keep:      sessionKeep,
	})
	if err != nil {
		return err
	}
	if sessionJSON {
		return printJSON(os.Stdout, summary)
	}
	fmt.Printf("Compacted %d messages of %s into %s\n", summary.Info.Compaction.Messages, args[0], summary.Info.ID)
	return nil
}

func printSessions(out io.Writer, sessions []*types.Session) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPARENT\tUPDATED\t")
	for _, s := range sessions {
		parent := "-"
		if s.ParentID != nil {
			parent = *s.ParentID
		}
		updated := time.UnixMilli(s.Time.Updated).Format(time.DateTime)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", s.ID, s.Title, parent, updated)
	}
	return w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
