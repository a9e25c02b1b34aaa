package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pdfdispatch/internal/config"
	"pdfdispatch/internal/storage"
)

func linkCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "link [key]",
		Short: "Sign a download link for a stored object without network access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFor(config.ScopeStorage)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			presigner, err := storage.NewPresigner(cfg.Storage)
			if err != nil {
				return err
			}
			url, err := presigner.Presign(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Link lifetime (defaults to PRESIGN_TTL)")

	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [url]",
		Short: "Report when a presigned link expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expiry, err := storage.LinkExpiry(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			state := "valid"
			if !storage.LinkValid(args[0], now) {
				state = "expired"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s until %s\n", state, expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat [key]",
		Short: "Show metadata of a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := storageClient()
			if err != nil {
				return err
			}
			meta, err := client.Stat(cmd.Context(), args[0])
			if err != nil {
				if storage.IsNoSuchKey(err) {
					return fmt.Errorf("object %q not found in %s", args[0], client.Bucket())
				}
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "key\t%s\n", meta.Key)
			fmt.Fprintf(w, "size\t%d\n", meta.Size)
			fmt.Fprintf(w, "content-type\t%s\n", meta.ContentType)
			fmt.Fprintf(w, "last-modified\t%s\n", meta.LastModified.UTC().Format(time.RFC3339))
			return w.Flush()
		},
	}
}

func lsCmd() *cobra.Command {
	var (
		prefix string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := storageClient()
			if err != nil {
				return err
			}
			objects, err := client.ListObjects(cmd.Context(), prefix, limit)
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, o := range objects {
				fmt.Fprintf(w, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Key prefix (defaults to STORAGE_KEY_PREFIX)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum results")

	return cmd
}

func storageClient() (*storage.Client, error) {
	cfg, err := config.LoadFor(config.ScopeStorage)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// The bootstrap check must not create buckets from an inspection tool.
	cfg.Storage.AutoCreateBucket = false
	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		if errors.Is(err, storage.ErrBucketMissing) {
			return nil, fmt.Errorf("bucket %q does not exist", cfg.Storage.Bucket)
		}
		return nil, err
	}
	return client, nil
}
