// -- cmd/knowledge.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
	"github.com/xkilldash9x/droidpilot-cli/internal/llmclient"
	"github.com/xkilldash9x/droidpilot-cli/internal/observability"
)

var flagCorpusFile string

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Maintain the app-operation knowledge store",
}

var knowledgeImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a YAML corpus file into the knowledge store",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		llm, err := llmclient.NewClient(cfg.Agent, logger)
		if err != nil {
			return fmt.Errorf("failed to build LLM client: %w", err)
		}
		defer llm.Close()

		store, err := knowledge.NewStore(cfg.Knowledge, logger)
		if err != nil {
			return err
		}

		n, err := knowledge.ImportCorpus(cmd.Context(), flagCorpusFile, store, llm)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents\n", n)
		return nil
	},
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored knowledge documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := knowledge.NewStore(cfg.Knowledge, observability.GetLogger())
		if err != nil {
			return err
		}
		docs, err := store.List()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "knowledge store is empty")
			return nil
		}
		for _, doc := range docs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d hints\n", doc.ID, doc.Package, doc.Description, len(doc.Hints))
		}
		return nil
	},
}

func init() {
	knowledgeImportCmd.Flags().StringVarP(&flagCorpusFile, "file", "f", "", "corpus YAML file to import")
	knowledgeImportCmd.MarkFlagRequired("file")
	knowledgeCmd.AddCommand(knowledgeImportCmd, knowledgeListCmd)
	rootCmd.AddCommand(knowledgeCmd)
}
