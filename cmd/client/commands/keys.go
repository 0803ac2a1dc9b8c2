package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"private_feed/internal/cryptographic/dh"
	"private_feed/internal/cryptographic/keyfile"
	"private_feed/internal/model"
)

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create an identity and store it in the key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if _, err := os.Stat(cfg.Client.KeyFile); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to replace it", cfg.Client.KeyFile)
			}

			priv, pub, err := dh.NewX25519KeyPair()
			if err != nil {
				return err
			}
			keys := keyfile.Keys{Identity: model.Identity(pub), PrivateKey: priv, PublicKey: pub}
			if err := keyfile.Save(cfg.Client.KeyFile, passphrase, keys); err != nil {
				return err
			}

			fmt.Printf("Identity:     %s\n", keys.Identity)
			fmt.Printf("Recovery key: %s\n", hex.EncodeToString(priv[:]))
			fmt.Println("Keep the recovery key safe; it restores feed access on a new device.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the identity in the key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := loadKeys()
			if err != nil {
				return err
			}
			fmt.Printf("Identity:   %s\nPublic key: %s\n", keys.Identity, keys.PublicKey)
			return nil
		},
	}
}
