package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"private_feed/internal/model"
	"private_feed/internal/service/app"
)

// ownerCommand runs fn against the owner named by the only argument.
func ownerCommand(use, short string, fn func(ctx context.Context, c *app.App, owner model.Identity) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := model.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := signIn(ctx, true)
			if err != nil {
				return err
			}
			defer c.Stop()
			return fn(ctx, c, owner)
		},
	}
}

func requestCmd() *cobra.Command {
	return ownerCommand("request <owner>", "Ask to follow a private feed",
		func(ctx context.Context, c *app.App, owner model.Identity) error {
			status, err := c.RequestAccess(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		})
}

func cancelCmd() *cobra.Command {
	return ownerCommand("cancel <owner>", "Withdraw a pending follow request",
		func(ctx context.Context, c *app.App, owner model.Identity) error {
			status, err := c.CancelRequest(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		})
}

func statusCmd() *cobra.Command {
	return ownerCommand("status <owner>", "Show your access status for a feed",
		func(ctx context.Context, c *app.App, owner model.Identity) error {
			status, err := c.Status(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Println(status)
			return nil
		})
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <post-file>",
		Short: "Decrypt a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			post, err := app.ReadPost(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := signIn(ctx, true)
			if err != nil {
				return err
			}
			defer c.Stop()

			got, err := c.Read(ctx, post)
			if err != nil {
				return err
			}
			fmt.Println(string(got.Content))
			return nil
		},
	}
}

func viewCmd() *cobra.Command {
	var remember bool
	cmd := &cobra.Command{
		Use:   "view <post-file>...",
		Short: "Open posts in the terminal viewer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			posts := make([]model.Post, 0, len(args))
			for _, path := range args {
				post, err := app.ReadPost(path)
				if err != nil {
					return err
				}
				posts = append(posts, post)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := signIn(ctx, remember)
			if err != nil {
				return err
			}
			defer c.Stop()

			go c.Watch(ctx)
			return c.NewView(posts).Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&remember, "remember-key", false, "recover keys with the key file instead of asking")
	return cmd
}
