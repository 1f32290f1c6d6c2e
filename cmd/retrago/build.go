package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrago/retrago/builder"
	"github.com/retrago/retrago/chunker"
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/model"
)

// corpusItem is one line of the JSONL corpus file.
type corpusItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SourceURI string `json:"source_uri"`
}

func newBuildCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <corpus.jsonl>",
		Short: "Build and publish a snapshot from a JSONL corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readCorpus(args[0])
			if err != nil {
				return err
			}

			eng, err := openEngine(v)
			if err != nil {
				return err
			}
			defer eng.Close()

			cfg := builder.Config{
				Backend:       model.BackendKind(v.GetString("backend")),
				Normalization: model.Normalization(v.GetString("normalization")),
				Chunker: chunker.Config{
					Name:       v.GetString("chunker"),
					WindowSize: v.GetInt("window-size"),
				},
				Provider: embedding.Config{
					Name:      v.GetString("provider.name"),
					Model:     v.GetString("provider.model"),
					APIKey:    v.GetString("provider.api_key"),
					BaseURL:   v.GetString("provider.base_url"),
					Dimension: v.GetInt("provider.dimension"),
				},
				Caps: model.Caps{
					MaxVectors: v.GetInt("max-vectors"),
					MaxBytes:   v.GetInt64("max-bytes"),
					BatchRows:  v.GetInt("batch-rows"),
				},
				EmbedBatchSize:  v.GetInt("embed-batch"),
				Concurrency:     v.GetInt("concurrency"),
				RateLimit:       v.GetFloat64("rate-limit"),
				SkipFailedItems: v.GetBool("skip-failed"),
			}

			report, err := eng.Build(cmd.Context(), items, cfg)
			if err != nil {
				return err
			}

			fmt.Printf("published snapshot %s: %d chunks from %d items (%s backend, dim %d) in %s\n",
				report.SnapshotID, report.Chunks, report.Items, report.Backend, report.Dimension, report.Duration.Round(0))
			for _, skipped := range report.Skipped {
				fmt.Printf("skipped item %s: %s\n", skipped.ItemID, skipped.Reason)
			}
			return nil
		},
	}

	cmd.Flags().String("backend", string(model.BackendFileBacked), "matrix backend: in_memory or file_backed")
	cmd.Flags().String("normalization", string(model.NormalizationL2), "vector normalization: l2 or none")
	cmd.Flags().String("chunker", "paragraph", "chunking strategy: paragraph or window")
	cmd.Flags().Int("window-size", 0, "window size in runes (window chunker)")
	cmd.Flags().String("provider.name", "openai", "embedding provider: openai or hash")
	cmd.Flags().String("provider.model", "", "provider model name")
	cmd.Flags().String("provider.api_key", "", "provider API key (or OPENAI_API_KEY)")
	cmd.Flags().String("provider.base_url", "", "provider endpoint override")
	cmd.Flags().Int("provider.dimension", 0, "vector dimension (hash provider)")
	cmd.Flags().Int("max-vectors", 0, "in-memory cap on vector count (0 = unlimited)")
	cmd.Flags().Int64("max-bytes", 0, "in-memory cap on matrix bytes (0 = unlimited)")
	cmd.Flags().Int("batch-rows", 0, "file-backed scan batch rows (0 = default)")
	cmd.Flags().Int("embed-batch", 0, "texts per provider call (0 = default)")
	cmd.Flags().Int("concurrency", 0, "items embedded in parallel (0 = default)")
	cmd.Flags().Float64("rate-limit", 0, "provider calls per second (0 = unlimited)")
	cmd.Flags().Bool("skip-failed", false, "skip items whose embedding fails")

	return cmd
}

func readCorpus(path string) ([]model.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []model.Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var item corpusItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		items = append(items, model.Item{
			ID:        item.ID,
			Text:      item.Text,
			SourceURI: item.SourceURI,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
