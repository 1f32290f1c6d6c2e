package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrago/retrago"
	"github.com/retrago/retrago/model"
)

func newQueryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a top-k query against a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(v)
			if err != nil {
				return err
			}
			defer eng.Close()

			var filters []retrago.Filter
			if items := v.GetStringSlice("item"); len(items) > 0 {
				filters = append(filters, retrago.FilterItems(items...))
			}
			if prefix := v.GetString("source-prefix"); prefix != "" {
				filters = append(filters, retrago.FilterSourcePrefix(prefix))
			}

			k := v.GetInt("k")
			var evidence []model.Evidence
			if id := v.GetString("snapshot"); id != "" {
				evidence, err = eng.Query(cmd.Context(), id, args[0], k, filters...)
			} else {
				evidence, err = eng.QueryCurrent(cmd.Context(), args[0], k, filters...)
			}
			if err != nil {
				return err
			}

			if v.GetBool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evidence)
			}
			for i, ev := range evidence {
				fmt.Printf("%2d. %.4f  %s  (%s)\n    %s\n", i+1, ev.Score, ev.ChunkID, ev.SourceURI, ev.Text)
			}
			return nil
		},
	}

	cmd.Flags().Int("k", 10, "number of results")
	cmd.Flags().String("snapshot", "", "snapshot id (default: current)")
	cmd.Flags().StringSlice("item", nil, "restrict to item ids")
	cmd.Flags().String("source-prefix", "", "restrict to source URIs with this prefix")
	cmd.Flags().Bool("json", false, "JSON output")

	return cmd
}
