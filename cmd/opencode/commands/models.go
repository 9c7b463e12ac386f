package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentcore/internal/config"
	"github.com/opencode-ai/agentcore/internal/provider"
)

var (
	modelsVerbose bool
	modelsDir     string
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List all available models from configured providers.

Examples:
  opencode models              # List all models
  opencode models anthropic    # List only Anthropic models
  opencode models --verbose    # Show pricing information`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVarP(&modelsVerbose, "verbose", "v", false, "Include metadata like costs")
	modelsCmd.Flags().StringVar(&modelsDir, "directory", "", "Working directory")
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(modelsDir)
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	providerReg, err := provider.InitializeProviders(cmd.Context(), appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	var providerFilter string
	if len(args) > 0 {
		providerFilter = args[0]
	}

	var defaultRef string
	if m, err := providerReg.DefaultModel(); err == nil {
		defaultRef = m.ProviderID + "/" + m.ID
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if modelsVerbose {
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tMAX OUTPUT\tINPUT PRICE\tOUTPUT PRICE\t")
	} else {
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tFEATURES\t")
	}

	for _, model := range providerReg.AllModels() {
		if providerFilter != "" && model.ProviderID != providerFilter {
			continue
		}
		name := model.ID
		if model.ProviderID+"/"+model.ID == defaultRef {
			name += " (default)"
		}

		if modelsVerbose {
			fmt.Fprintf(w, "%s\t%s\t%dk\t%d\t$%.2f/1M\t$%.2f/1M\t\n",
				model.ProviderID,
				name,
				model.ContextLength/1000,
				model.MaxOutputTokens,
				model.InputPrice,
				model.OutputPrice,
			)
			continue
		}
		var features []string
		if model.SupportsTools {
			features = append(features, "tools")
		}
		if model.SupportsReasoning {
			features = append(features, "reasoning")
		}
		fmt.Fprintf(w, "%s\t%s\t%dk\t%s\t\n",
			model.ProviderID,
			name,
			model.ContextLength/1000,
			strings.Join(features, " "),
		)
	}

	return w.Flush()
}
