package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tatty/internal/artifacts"
	"github.com/nextlevelbuilder/tatty/internal/config"
)

func artifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List and sync workspace artifacts",
	}
	cmd.AddCommand(artifactsListCmd())
	cmd.AddCommand(artifactsPushCmd())
	cmd.AddCommand(artifactsPullCmd())
	return cmd
}

func artifactsManager(cfg *config.Config) *artifacts.Manager {
	return artifacts.NewManager(cfg.Agent.Workspace, cfg.Artifacts.Folders)
}

func artifactsS3(cfg *config.Config) *artifacts.S3Sync {
	if cfg.Artifacts.S3.Bucket == "" {
		fmt.Fprintln(os.Stderr, "No S3 bucket configured (artifacts.s3.bucket).")
		os.Exit(1)
	}
	sync, err := artifacts.NewS3Sync(context.Background(), artifacts.S3Config{
		Bucket: cfg.Artifacts.S3.Bucket,
		Prefix: cfg.Artifacts.S3.Prefix,
		Region: cfg.Artifacts.S3.Region,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return sync
}

func artifactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List files in the standard artifact folders",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			entries, err := artifactsManager(cfg).Manifest()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Print(artifacts.FormatManifest(entries))
		},
	}
}

func artifactsPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload artifacts to the configured S3 bucket",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			n, err := artifactsS3(cfg).Push(context.Background(), artifactsManager(cfg))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Uploaded %d file(s) to s3://%s/%s\n", n, cfg.Artifacts.S3.Bucket, cfg.Artifacts.S3.Prefix)
		},
	}
}

func artifactsPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download artifacts from the configured S3 bucket",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			n, err := artifactsS3(cfg).Pull(context.Background(), artifactsManager(cfg))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Downloaded %d file(s).\n", n)
		},
	}
}
