package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/agent"
	"github.com/opencode-ai/agentcore/internal/config"
)

var agentDir string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect agent profiles",
	Long: `Inspect the agent profiles available to runs.

Built-in profiles can be adjusted and new ones defined in the
configuration file under the "agent" key.`,
}

var agentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all agents",
	RunE:    runAgentList,
}

func init() {
	agentCmd.PersistentFlags().StringVar(&agentDir, "directory", "", "Working directory")
	agentCmd.AddCommand(agentListCmd)
}

func runAgentList(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(agentDir)
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	reg := agent.NewRegistry()
	reg.LoadFromConfig(appConfig)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tTOOLS\tRULES\t")
	for _, a := range reg.List() {
		source := "config"
		if a.BuiltIn {
			source = "built-in"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", a.Name, source, toolSummary(a), len(a.Permission))
	}
	return w.Flush()
}

// toolSummary describes a profile's tool switches, e.g. "all" or "all -bash".
func toolSummary(a *agent.Agent) string {
	all := a.ToolEnabled("*")
	var diff []string
	for name, enabled := range a.Tools {
		if name == "*" || enabled == all {
			continue
		}
		if enabled {
			diff = append(diff, "+"+name)
		} else {
			diff = append(diff, "-"+name)
		}
	}
	sort.Strings(diff)

	base := "none"
	if all {
		base = "all"
	}
	if len(diff) == 0 {
		return base
	}
	return base + " " + strings.Join(diff, " ")
}
