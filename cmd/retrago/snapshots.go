package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSnapshotsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List published snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := openEngine(v)
			if err != nil {
				return err
			}
			defer eng.Close()

			ids, err := eng.Snapshots()
			if err != nil {
				return err
			}
			current, _ := eng.CurrentID()

			for _, id := range ids {
				marker := " "
				if id == current {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, id)
			}
			return nil
		},
	}
}

func newInfoCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "info [snapshot-id]",
		Short: "Print a snapshot's manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(v)
			if err != nil {
				return err
			}
			defer eng.Close()

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				id, err = eng.CurrentID()
				if err != nil {
					return err
				}
			}

			man, err := eng.Manifest(id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(man)
		},
	}
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(v)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}
