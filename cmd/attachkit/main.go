// Command attachkit is the operational CLI for the attachment lifecycle:
// uploading files, deleting attachments, printing public locators and
// scheduling thumbnail re-derivation.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/attachkit/attachkit/internal/config"
	"github.com/attachkit/attachkit/internal/datastore"
	"github.com/attachkit/attachkit/internal/queue"
	"github.com/attachkit/attachkit/internal/setup"
	"github.com/attachkit/attachkit/internal/validate"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "attachkit"})

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "attachkit: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "attachkit",
		Short:        "Manage attachment uploads, thumbnails and storage",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newUploadCmd(),
		newDeleteCmd(),
		newURLCmd(),
		newRethumbCmd(),
	)
	return cmd
}

func newUploadCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file through the attachment lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			manager, cleanup, err := setup.Manager(ctx, cfg, datastore.Hooks{}, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			att, err := manager.ReceiveUpload(ctx, data, contentType, filepath.Base(args[0]))
			var verrs validate.Errors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					fmt.Fprintf(os.Stderr, "  %s %s\n", fe.Field, fe.Message)
				}
				return fmt.Errorf("upload rejected")
			}
			if err != nil && att == nil {
				return err
			}
			fmt.Printf("uploaded %s as attachment %d (%s)\n",
				att.Filename, att.ID, humanize.Bytes(uint64(att.Size)))
			if err != nil {
				// Persisted, but one or more thumbnails failed.
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Declared content type (sniffed when omitted)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an attachment, its thumbnails and stored bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad attachment id %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			manager, cleanup, err := setup.Manager(ctx, cfg, datastore.Hooks{}, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := manager.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Printf("deleted attachment %d\n", id)
			return nil
		},
	}
}

func newURLCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "url <id>",
		Short: "Print the public locator for an attachment or variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad attachment id %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			manager, cleanup, err := setup.Manager(ctx, cfg, datastore.Hooks{}, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			locator, err := manager.PublicURL(ctx, id, label)
			if err != nil {
				return err
			}
			fmt.Println(locator)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Thumbnail label instead of the original")
	return cmd
}

func newRethumbCmd() *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "rethumb <id>",
		Short: "Rebuild thumbnail variants for a persisted attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad attachment id %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if now {
				manager, cleanup, err := setup.Manager(ctx, cfg, datastore.Hooks{}, logger)
				if err != nil {
					return err
				}
				defer cleanup()
				return manager.Rederive(ctx, id)
			}
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()
			if err := queue.EnqueueRederive(ctx, client, queue.RederivePayload{AttachmentID: id}); err != nil {
				return err
			}
			fmt.Printf("queued re-derivation for attachment %d\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "Run synchronously instead of queueing")
	return cmd
}
