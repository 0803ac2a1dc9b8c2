package commands

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"private_feed/internal/config"
	"private_feed/internal/cryptographic/keyfile"
	"private_feed/internal/model"
	"private_feed/internal/repository/httpstore"
	"private_feed/internal/service/app"
	"private_feed/internal/utils/log"
)

const passphraseEnv = "PF_PASSPHRASE"

var (
	cfgPath    string
	serverURL  string
	keyPath    string
	passphrase string

	cfg config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:          "feed",
		Short:        "Private feed client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}
			if keyPath != "" {
				cfg.Client.KeyFile = keyPath
			}
			if passphrase == "" {
				passphrase = os.Getenv(passphraseEnv)
			}
			return log.Init(cfg.Log)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "config file")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "document store URL (overrides config)")
	root.PersistentFlags().StringVarP(&keyPath, "key", "k", "", "key file (overrides config)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "key file passphrase (or $"+passphraseEnv+")")

	root.AddCommand(
		keygenCmd(), whoamiCmd(),
		postCmd(), approveCmd(), revokeCmd(), rotateCmd(), requestsCmd(), followersCmd(),
		requestCmd(), cancelCmd(), statusCmd(), readCmd(), viewCmd(),
	)
	return root.Execute()
}

func loadKeys() (keyfile.Keys, error) {
	if passphrase == "" {
		return keyfile.Keys{}, errors.New("passphrase required (-p or $" + passphraseEnv + ")")
	}
	return keyfile.Load(cfg.Client.KeyFile, passphrase)
}

// signIn opens the signed-in user's client. Callers must Stop it.
func signIn(ctx context.Context, rememberKey bool) (*app.App, error) {
	keys, err := loadKeys()
	if err != nil {
		return nil, err
	}
	store, err := httpstore.New(cfg.Client.ServerURL, nil)
	if err != nil {
		return nil, err
	}
	return app.NewApp(ctx, store, keys, app.Options{
		MaxEpoch:    model.Epoch(cfg.Chain.MaxEpoch),
		CacheTTL:    cfg.StatusCache.TTL,
		RememberKey: rememberKey,
	}), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}
