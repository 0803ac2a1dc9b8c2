package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"private_feed/internal/model"
	"private_feed/internal/service/app"
)

func postCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "post <text>",
		Short: "Encrypt a post for your followers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := signIn(ctx, true)
			if err != nil {
				return err
			}
			defer c.Stop()

			post, err := c.Publish(ctx, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = post.ID + ".json"
			}
			if err := app.WritePost(out, post); err != nil {
				return err
			}
			fmt.Printf("post %s (epoch %d) written to %s\n", post.ID, post.Encrypted.Epoch, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <id>.json)")
	return cmd
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <requester>",
		Short: "Approve a follow request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requester, err := model.ParseIdentity(args[0])
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

			grant, err := c.Approve(ctx, requester)
			if err != nil {
				return err
			}
			fmt.Printf("approved %s from epoch %d\n", requester.Short(), grant.Epoch)
			return nil
		},
	}
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <follower>",
		Short: "Remove a follower and rotate the feed key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			follower, err := model.ParseIdentity(args[0])
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

			if err := c.Revoke(ctx, follower); err != nil {
				return err
			}
			fmt.Printf("revoked %s\n", follower.Short())
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Advance the feed to a new epoch key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := signIn(ctx, true)
			if err != nil {
				return err
			}
			defer c.Stop()

			epoch, err := c.Rotate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("feed now at epoch %d\n", epoch)
			return nil
		},
	}
}

func requestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List pending follow requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := signIn(ctx, true)
			if err != nil {
				return err
			}
			defer c.Stop()

			reqs, err := c.Requests(ctx)
			if err != nil {
				return err
			}
			for _, r := range reqs {
				fmt.Printf("%s  %s\n", r.RequesterID, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func followersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followers",
		Short: "List approved followers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := signIn(ctx, true)
			if err != nil {
				return err
			}
			defer c.Stop()

			grants, err := c.Followers(ctx)
			if err != nil {
				return err
			}
			for _, g := range grants {
				fmt.Printf("%s  from epoch %d\n", g.FollowerID, g.Epoch)
			}
			return nil
		},
	}
}
