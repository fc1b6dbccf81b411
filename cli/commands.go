package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cardwallet "github.com/schjonhaug/cardwallet-go"
)

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// parseQuery parses "bitcoin" or "bitcoin/derived:bip84".
func parseQuery(s string) (cardwallet.TokenQuery, error) {

	blockchain, token, found := strings.Cut(s, "/")

	blockchainType, err := cardwallet.ParseBlockchainType(blockchain)
	if err != nil {
		return cardwallet.TokenQuery{}, err
	}

	tokenType := cardwallet.NativeToken()
	if found {
		if tokenType, err = cardwallet.ParseTokenType(token); err != nil {
			return cardwallet.TokenQuery{}, err
		}
	}

	return cardwallet.TokenQuery{BlockchainType: blockchainType, TokenType: tokenType}, nil
}

type walletView struct {
	PublicKey string `json:"public_key"`
	Curve     string `json:"curve"`
	CanDerive bool   `json:"can_derive"`
	Imported  bool   `json:"imported"`
}

type cardView struct {
	CardID       string       `json:"card_id"`
	Identity     string       `json:"identity,omitempty"`
	Firmware     string       `json:"firmware"`
	Product      string       `json:"product"`
	BackupStatus string       `json:"backup_status"`
	Wallets      []walletView `json:"wallets"`
}

func newCardView(card *cardwallet.Card, product cardwallet.ProductType) cardView {
	identity, _ := card.Identity()
	view := cardView{
		CardID:       card.CardID,
		Identity:     identity,
		Firmware:     card.FirmwareVersion.String(),
		Product:      string(product),
		BackupStatus: card.BackupStatus.String(),
	}
	for _, wallet := range card.Wallets {
		view.Wallets = append(view.Wallets, walletView{
			PublicKey: hex.EncodeToString(wallet.PublicKey),
			Curve:     wallet.Curve.String(),
			CanDerive: wallet.CanDerive(),
			Imported:  wallet.IsImported,
		})
	}
	return view
}

func newScanCommand() *cobra.Command {

	var queries []string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read the card and print its public keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(config)
			if err != nil {
				return err
			}

			var tokenQueries []cardwallet.TokenQuery
			for _, q := range queries {
				query, err := parseQuery(q)
				if err != nil {
					return err
				}
				tokenQueries = append(tokenQueries, query)
			}

			ctx, cancel := withTimeout(config)
			defer cancel()

			log.Info().Msg("Tap your card")

			scan, err := manager.ScanProduct(ctx, tokenQueries)
			if err != nil {
				return err
			}

			if tokenQueries == nil {
				tokenQueries = cardwallet.CardConfigFor(scan.Card).DefaultTokenQueries()
			}

			accountID := config.AccountID
			if accountID == "" {
				accountID = uuid.NewString()
			}

			keys, err := manager.BuildHardwarePublicKeys(ctx, scan, accountID, tokenQueries)
			if err != nil {
				return err
			}

			return printJSON(struct {
				Card cardView                       `json:"card"`
				Keys []cardwallet.HardwarePublicKey `json:"keys"`
			}{newCardView(scan.Card, scan.ProductType), keys})
		},
	}

	cmd.Flags().StringSliceVarP(&queries, "query", "q", nil, `blockchain to derive, e.g. "bitcoin/derived:bip84" (repeatable)`)

	return cmd
}

func newCreateCommand() *cobra.Command {

	var mnemonic, passphrase string
	var reset bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the wallets of the card",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(config)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(config)
			defer cancel()

			log.Info().Msg("Tap your card")

			response, err := manager.CreateProductWallet(ctx, mnemonic, passphrase, reset)
			if err != nil {
				return err
			}

			derived := 0
			for _, keys := range response.DerivedKeys {
				derived += len(keys)
			}

			return printJSON(struct {
				Card        cardView `json:"card"`
				DerivedKeys int      `json:"derived_keys"`
				Primary     bool     `json:"primary_card"`
			}{newCardView(response.Card, response.ProductType), derived, response.PrimaryCard != nil})
		},
	}

	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "import wallets from this BIP39 mnemonic")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "BIP39 passphrase")
	cmd.Flags().BoolVar(&reset, "reset", false, "wipe existing wallets first")

	return cmd
}

func newResetCommand() *cobra.Command {

	var useKeystore bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the card to factory settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(config)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(config)
			defer cancel()

			log.Info().Msg("Tap the card to reset")

			result, err := manager.ResetToFactorySettings(ctx, useKeystore)
			if err != nil {
				return err
			}

			return printResetResult(result)
		},
	}

	cmd.Flags().BoolVar(&useKeystore, "use-keystore", true, "look up the access code in the keystore")

	return cmd
}

func newResetBackupCommand() *cobra.Command {

	var primaryKey string

	cmd := &cobra.Command{
		Use:   "reset-backup",
		Short: "Reset a backup card, refusing the primary card",
		RunE: func(cmd *cobra.Command, args []string) error {
			publicKey, err := hex.DecodeString(primaryKey)
			if err != nil {
				return fmt.Errorf("invalid primary key: %w", err)
			}

			config, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(config)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(config)
			defer cancel()

			log.Info().Msg("Tap the backup card")

			result, err := manager.ResetBackupCard(ctx, publicKey)
			if err != nil {
				return err
			}

			return printResetResult(result)
		},
	}

	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "hex public key of a wallet on the primary card")
	_ = cmd.MarkFlagRequired("primary-key")

	return cmd
}

func printResetResult(result cardwallet.ResetResult) error {
	return printJSON(struct {
		DidReset            bool   `json:"did_reset"`
		LastWalletPublicKey string `json:"last_wallet_public_key,omitempty"`
	}{result.DidReset, hex.EncodeToString(result.LastWalletPublicKey)})
}

func newMnemonicCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mnemonic",
		Short: "Generate a BIP39 mnemonic to import with create --mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, err := cardwallet.NewMnemonic()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), mnemonic)
			return err
		},
	}
}

func newAttestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attest",
		Short: "Check that the card was issued by the factory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(config)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(config)
			defer cancel()

			log.Info().Msg("Tap your card")

			card, err := manager.AttestCard(ctx)
			if err != nil {
				return err
			}

			log.Info().Str("card_id", card.CardID).Msg("Card is genuine")

			return printJSON(newCardView(card, cardwallet.CardConfigFor(card).ProductType()))
		},
	}
}
