package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrago/retrago/archive"
	"github.com/retrago/retrago/snapshot"
)

func newPackCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <snapshot-id> [out-file]",
		Short: "Pack a snapshot into a compressed tarball",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.NewStore(v.GetString("dir"))
			if err != nil {
				return err
			}
			id := args[0]

			codec := archive.Codec(v.GetString("codec"))
			out := id + codec.Ext()
			if len(args) == 2 {
				out = args[1]
			}

			if err := archive.Pack(store.Path(id), out, codec); err != nil {
				return err
			}
			fmt.Println("packed", id, "to", out)
			return nil
		},
	}
	cmd.Flags().String("codec", string(archive.CodecZstd), "compression codec: zstd or lz4")
	return cmd
}

func newUnpackCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <archive-file>",
		Short: "Unpack a snapshot tarball into the store and publish it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := snapshot.NewStore(v.GetString("dir"))
			if err != nil {
				return err
			}

			// Extract to a scratch dir first; the snapshot id lives in the
			// archived manifest, not in the archive file name.
			scratch, err := os.MkdirTemp(store.Root(), ".unpack-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(scratch)

			if err := archive.Unpack(args[0], scratch); err != nil {
				return err
			}
			man, err := snapshot.LoadManifest(scratch)
			if err != nil {
				return err
			}

			dir, err := store.Begin(man.ID)
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(scratch)
			if err != nil {
				store.Discard(man.ID)
				return err
			}
			for _, e := range entries {
				if err := os.Rename(filepath.Join(scratch, e.Name()), filepath.Join(dir, e.Name())); err != nil {
					store.Discard(man.ID)
					return err
				}
			}

			if err := store.Publish(man.ID); err != nil {
				store.Discard(man.ID)
				return err
			}
			fmt.Println("published", man.ID)
			return nil
		},
	}
}
