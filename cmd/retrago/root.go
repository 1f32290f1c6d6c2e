package main

import (
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrago/retrago"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "retrago",
		Short:         "Exact top-k retrieval over embedded text corpora",
		Long: `retrago chunks a text corpus, embeds every chunk and serves exact
top-k cosine similarity queries from immutable, atomically published
snapshots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Missing .env is fine; explicit env vars still apply.
			_ = godotenv.Load()

			if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
				v.SetConfigFile(cfg)
				if err := v.ReadInConfig(); err != nil {
					return err
				}
			}
			v.SetEnvPrefix("RETRAGO")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			v.AutomaticEnv()
			return v.BindPFlags(cmd.Flags())
		},
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml)")
	cmd.PersistentFlags().String("dir", "./index", "snapshot store directory")
	cmd.PersistentFlags().Bool("verbose", false, "debug logging")

	cmd.AddCommand(
		newBuildCmd(v),
		newQueryCmd(v),
		newInfoCmd(v),
		newSnapshotsCmd(v),
		newDeleteCmd(v),
		newPushCmd(v),
		newPullCmd(v),
		newPackCmd(v),
		newUnpackCmd(v),
	)
	return cmd
}

func newLogger(v *viper.Viper) *retrago.Logger {
	level := slog.LevelInfo
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return retrago.NewTextLogger(level)
}

func openEngine(v *viper.Viper) (*retrago.Engine, error) {
	return retrago.New(v.GetString("dir"),
		retrago.WithLogger(newLogger(v)),
		retrago.WithProviderCredentials(v.GetString("provider.api_key"), v.GetString("provider.base_url")),
	)
}
