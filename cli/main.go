package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cardwallet "github.com/schjonhaug/cardwallet-go"
	"github.com/schjonhaug/cardwallet-go/emulator"
	"github.com/schjonhaug/cardwallet-go/scard"
)

// Config is read from flags and CARDWALLET_* environment variables.
type Config struct {
	Reader           string        `mapstructure:"reader"`
	Emulator         bool          `mapstructure:"emulator"`
	AccessCode       string        `mapstructure:"access-code"`
	Keystore         string        `mapstructure:"keystore"`
	KeystorePassword string        `mapstructure:"keystore-password"`
	Debug            bool          `mapstructure:"debug"`
	AccountID        string        `mapstructure:"account-id"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FactoryKey       string        `mapstructure:"factory-key"`
}

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "cardwallet",
	Short:         "Provision multi-curve wallet cards",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		if v.GetBool("debug") {
			cardwallet.EnableDebugLogging()
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("reader", "", "PC/SC reader name (default: any reader)")
	flags.Bool("emulator", false, "use an in-memory emulated card")
	flags.String("access-code", "", "access code of the card")
	flags.String("keystore", "", "file to keep access codes in")
	flags.String("keystore-password", "", "password of the access code keystore")
	flags.Bool("debug", false, "log every card command")
	flags.String("account-id", "", "account id for built public keys (default: random)")
	flags.Duration("timeout", time.Minute, "how long to wait for a card")
	flags.String("factory-key", "", "hex factory root key for attest (default: the emulator's with --emulator)")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	v.SetEnvPrefix("CARDWALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(
		newScanCommand(),
		newCreateCommand(),
		newResetCommand(),
		newResetBackupCommand(),
		newMnemonicCommand(),
		newAttestCommand(),
	)
}

func loadConfig() (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

// newManager connects the configured reader.
func newManager(config *Config) (*cardwallet.Manager, error) {

	var reader cardwallet.Reader = &scard.Reader{Name: config.Reader}

	if config.Emulator {
		card, err := emulator.New(emulator.DefaultOptions())
		if err != nil {
			return nil, err
		}
		field := &emulator.Field{}
		field.Present(card)
		reader = cardwallet.ReaderFunc(func(ctx context.Context) (cardwallet.Transport, error) {
			card, err := field.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return card, nil
		})
	}

	var opts []cardwallet.Option
	if config.AccessCode != "" {
		opts = append(opts, cardwallet.WithAccessCode(config.AccessCode))
	}
	if config.Keystore != "" {
		repository := cardwallet.NewFileAccessCodeRepository(config.Keystore, config.KeystorePassword, cardwallet.DefaultScryptParams())
		opts = append(opts, cardwallet.WithAccessCodeRepository(repository))
	}

	switch {
	case config.FactoryKey != "":
		factoryKey, err := hex.DecodeString(config.FactoryKey)
		if err != nil {
			return nil, fmt.Errorf("invalid factory key: %w", err)
		}
		opts = append(opts, cardwallet.WithFactoryRootKey(factoryKey))
	case config.Emulator:
		opts = append(opts, cardwallet.WithFactoryRootKey(emulator.FactoryPublicKey()))
	}

	return cardwallet.NewManager(reader, opts...), nil
}

func withTimeout(config *Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), config.Timeout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Str("kind", cardwallet.KindOf(err).String()).Msg("Failed")
		os.Exit(1)
	}
}
