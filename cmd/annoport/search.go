package main

import (
	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/labelops/annoport/internal/describe"
	"github.com/labelops/annoport/internal/report"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find journaled items whose descriptions match a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Journal.Enabled {
			return errors.New("search needs the run journal enabled")
		}
		ctx := cmd.Context()

		embedder := describe.NewEmbedder(describe.Config{
			BaseURL:    cfg.Describe.BaseURL,
			Port:       cfg.Describe.Port,
			EmbedModel: cfg.Describe.EmbedModel,
		})
		embedding, err := embedder.Embed(ctx, args[0])
		if err != nil {
			return err
		}

		store, err := report.NewPostgresStore(ctx, journalConfig())
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.SearchSimilar(ctx, embedding, searchLimit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			pterm.Info.Println("no matching items")
			return nil
		}

		rows := pterm.TableData{{"Item", "Similarity", "Description"}}
		for _, result := range results {
			rows = append(rows, []string{
				result.ItemID,
				pterm.Sprintf("%.3f", result.Similarity),
				result.Description,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "maximum results")
	rootCmd.AddCommand(searchCmd)
}
