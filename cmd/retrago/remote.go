package main

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrago/retrago/blobstore"
	minioblob "github.com/retrago/retrago/blobstore/minio"
	s3blob "github.com/retrago/retrago/blobstore/s3"
	"github.com/retrago/retrago/snapshot"
)

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("remote", "s3", "remote store type: s3, minio or local")
	cmd.Flags().String("bucket", "", "bucket name (s3/minio)")
	cmd.Flags().String("remote-prefix", "", "key prefix within the bucket")
	cmd.Flags().String("remote-path", "", "directory path (local remote)")
	cmd.Flags().String("endpoint", "", "endpoint host:port (minio)")
	cmd.Flags().String("access-key", "", "access key (minio)")
	cmd.Flags().String("secret-key", "", "secret key (minio)")
	cmd.Flags().Bool("secure", true, "TLS to the endpoint (minio)")
	cmd.Flags().String("ddb-table", "", "DynamoDB table for the remote CURRENT pointer (s3)")
}

func openRemote(ctx context.Context, v *viper.Viper) (blobstore.Store, error) {
	switch v.GetString("remote") {
	case "s3":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		bucket := v.GetString("bucket")
		if bucket == "" {
			return nil, fmt.Errorf("--bucket is required for the s3 remote")
		}
		return s3blob.NewStore(awss3.NewFromConfig(cfg), bucket, v.GetString("remote-prefix")), nil

	case "minio":
		endpoint := v.GetString("endpoint")
		if endpoint == "" {
			return nil, fmt.Errorf("--endpoint is required for the minio remote")
		}
		client, err := miniogo.New(endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(v.GetString("access-key"), v.GetString("secret-key"), ""),
			Secure: v.GetBool("secure"),
		})
		if err != nil {
			return nil, err
		}
		bucket := v.GetString("bucket")
		if bucket == "" {
			return nil, fmt.Errorf("--bucket is required for the minio remote")
		}
		return minioblob.NewStore(client, bucket, v.GetString("remote-prefix")), nil

	case "local":
		path := v.GetString("remote-path")
		if path == "" {
			return nil, fmt.Errorf("--remote-path is required for the local remote")
		}
		return blobstore.NewLocalStore(path)

	default:
		return nil, fmt.Errorf("unknown remote type %q", v.GetString("remote"))
	}
}

func newPushCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push [snapshot-id]",
		Short: "Upload a snapshot to a remote store and repoint remote CURRENT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := snapshot.NewStore(v.GetString("dir"))
			if err != nil {
				return err
			}

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				id, err = store.CurrentID()
				if err != nil {
					return err
				}
			}

			remote, err := openRemote(ctx, v)
			if err != nil {
				return err
			}
			logger := newLogger(v)

			if err := blobstore.Push(ctx, remote, store, id); err != nil {
				logger.LogPush(ctx, id, v.GetString("remote"), err)
				return err
			}

			// With a DynamoDB table the pointer update is compare-and-swap;
			// without one it is a plain overwrite of the CURRENT blob.
			if table := v.GetString("ddb-table"); table != "" {
				cfg, err := awsconfig.LoadDefaultConfig(ctx)
				if err != nil {
					return err
				}
				uri := fmt.Sprintf("s3://%s/%s", v.GetString("bucket"), v.GetString("remote-prefix"))
				pointer := s3blob.NewCurrentPointer(awsdynamodb.NewFromConfig(cfg), table, uri)
				_, version, err := pointer.Get(ctx)
				if err != nil && !errors.Is(err, s3blob.ErrNoCurrent) {
					return err
				}
				if err := pointer.Commit(ctx, id, version); err != nil {
					return err
				}
			} else if err := blobstore.SetCurrent(ctx, remote, id); err != nil {
				return err
			}

			logger.LogPush(ctx, id, v.GetString("remote"), nil)
			fmt.Println("pushed", id)
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

func newPullCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull [snapshot-id]",
		Short: "Download a snapshot from a remote store and publish it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := snapshot.NewStore(v.GetString("dir"))
			if err != nil {
				return err
			}

			remote, err := openRemote(ctx, v)
			if err != nil {
				return err
			}

			var id string
			if len(args) == 1 {
				id = args[0]
			} else {
				id, err = blobstore.CurrentID(ctx, remote)
				if err != nil {
					return err
				}
			}

			logger := newLogger(v)
			if err := blobstore.Pull(ctx, remote, store, id); err != nil {
				logger.LogPull(ctx, id, v.GetString("remote"), err)
				return err
			}
			logger.LogPull(ctx, id, v.GetString("remote"), nil)
			fmt.Println("pulled", id)
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}
