package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/mcp"
)

var mcpDir string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP servers",
	Long: `Inspect the MCP servers configured under the "mcp" key.

Tools offered by connected servers are available to runs as
<server>_<tool>.`,
}

var mcpListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Connect to every configured server and show its status",
	RunE:    runMCPList,
}

func init() {
	mcpCmd.PersistentFlags().StringVar(&mcpDir, "directory", "", "Working directory")
	mcpCmd.AddCommand(mcpListCmd)
}

func runMCPList(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(mcpDir)
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if len(appConfig.MCP) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := mcp.Connect(ctx, appConfig, Version)
	defer client.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tVERSION\tTOOLS\tERROR\t")
	for _, s := range client.Status() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n", s.Name, s.Status, s.Version, s.ToolCount, s.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, t := range client.Tools() {
		fmt.Printf("  %s  %s\n", t.Name, t.Description)
	}
	return nil
}
