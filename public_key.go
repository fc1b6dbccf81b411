package cardwallet

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HardwarePublicKeyType says what HardwarePublicKey.Key holds.
type HardwarePublicKeyType string

const (
	KeyTypeAddress   HardwarePublicKeyType = "ADDRESS"
	KeyTypePublicKey HardwarePublicKeyType = "PUBLIC_KEY"
)

// HardwarePublicKey is the record persisted per account and token. Key is the
// hex encoded public key for address chains and the serialized extended key
// otherwise.
type HardwarePublicKey struct {
	AccountID      string                `json:"account_id"`
	BlockchainType BlockchainType        `json:"blockchain_type"`
	Type           HardwarePublicKeyType `json:"type"`
	TokenType      TokenType             `json:"token_type"`
	Key            string                `json:"key"`
	PublicKey      []byte                `json:"public_key"`
	DerivationPath string                `json:"derivation_path"`
}

// Verify checks Key against PublicKey and DerivationPath without a card.
func (key HardwarePublicKey) Verify() error {

	path, err := ParseDerivationPath(key.DerivationPath)
	if err != nil {
		return err
	}

	switch key.Type {
	case KeyTypeAddress:
		if key.Key != hex.EncodeToString(key.PublicKey) {
			return errors.Errorf("address key of %s does not match its public key", key.BlockchainType)
		}
		return nil

	case KeyTypePublicKey:
		extended, err := hdkeychain.NewKeyFromString(key.Key)
		if err != nil {
			return errors.Wrap(err, "invalid extended key")
		}
		if extended.IsPrivate() {
			return errors.New("extended key is private")
		}
		if int(extended.Depth()) != path.Depth() {
			return errors.Errorf("extended key depth %d does not match %s", extended.Depth(), path)
		}
		if node, ok := path.LastNode(); ok && extended.ChildIndex() != node.ChildNumber() {
			return errors.Errorf("extended key child number %d does not match %s", extended.ChildIndex(), path)
		}

		publicKey, err := extended.ECPubKey()
		if err != nil {
			return errors.Wrap(err, "invalid extended key")
		}
		if !bytes.Equal(publicKey.SerializeCompressed(), key.PublicKey) {
			return errors.New("extended key does not match its public key")
		}
		return nil

	default:
		return errors.Errorf("unknown key type %q", key.Type)
	}
}

// SelectWallet picks the card wallet that holds keys for blockchain.
// Multi-curve cards use the wallet on the primary curve. Older cards use
// their sole wallet; with more than one, the secp256k1 wallet, then the first
// one.
func SelectWallet(config CardConfig, card *Card, blockchain BlockchainType) (CardWallet, bool) {

	if config.IsMultiCurve() {
		return card.WalletForCurve(config.PrimaryCurve(blockchain))
	}

	switch len(card.Wallets) {
	case 0:
		return CardWallet{}, false
	case 1:
		return card.Wallets[0], true
	}

	if wallet, ok := card.WalletForCurve(Secp256k1); ok {
		return wallet, true
	}
	return card.Wallets[0], true
}

// BuildHardwarePublicKeys turns a scan into the records to persist for
// accountID. Queries without a usable wallet, path or derived key are
// skipped. Extended keys are rebuilt from the derived keys, asking deriver
// for missing parents. Keys fetched that way are merged into
// scan.DerivedKeys, which is allocated when nil, so a later call with the
// same scan does not tap the card again.
func BuildHardwarePublicKeys(
	ctx context.Context,
	scan *ScanResponse,
	deriver Deriver,
	accountID string,
	queries []TokenQuery,
) ([]HardwarePublicKey, error) {

	config := CardConfigFor(scan.Card)
	reconstructor := ExtendedKeyReconstructor{Deriver: deriver}

	if scan.DerivedKeys == nil {
		scan.DerivedKeys = DerivedKeys{}
	}

	keys := make([]HardwarePublicKey, 0, len(queries))

	for _, query := range queries {

		logger := log.With().Stringer("query", query).Logger()

		purpose, err := query.TokenType.ResolvePurpose()
		if err != nil {
			logger.Warn().Err(err).Msg("Skipping public key")
			continue
		}

		path, ok := config.Derivation(query.BlockchainType, purpose)
		if !ok {
			logger.Debug().Msg("No derivation path")
			continue
		}

		wallet, ok := SelectWallet(config, scan.Card, query.BlockchainType)
		if !ok {
			logger.Debug().Msg("No wallet")
			continue
		}

		exposure, _ := query.BlockchainType.Exposure()

		switch exposure {
		case ExposeExtendedKey:
			version, ok := query.BlockchainType.ExtendedKeyVersion(purpose)
			if !ok {
				logger.Warn().Stringer("purpose", purpose).Msg("No extended key version")
				continue
			}
			if !wallet.CanDerive() {
				logger.Debug().Msg("Wallet cannot derive")
				continue
			}

			extended, childPath, err := reconstructor.Reconstruct(ctx, wallet, path, true, scan.DerivedKeys)
			if err != nil {
				return nil, err
			}

			serialized, err := extended.Serialize(version)
			if err != nil {
				return nil, err
			}

			keys = append(keys, HardwarePublicKey{
				AccountID:      accountID,
				BlockchainType: query.BlockchainType,
				Type:           KeyTypePublicKey,
				TokenType:      query.TokenType,
				Key:            serialized,
				PublicKey:      extended.PublicKey,
				DerivationPath: childPath.String(),
			})

		default:
			if !wallet.CanDerive() {
				// Non-HD wallets expose the wallet key itself.
				path = DerivationPath{}
			}

			derived, ok := scan.DerivedKeys.Get(wallet.PublicKey, path)
			if path.IsMaster() {
				derived, ok = ExtendedPublicKey{PublicKey: wallet.PublicKey}, true
			}
			if !ok {
				logger.Debug().Stringer("path", path).Msg("Key not derived")
				continue
			}

			keys = append(keys, HardwarePublicKey{
				AccountID:      accountID,
				BlockchainType: query.BlockchainType,
				Type:           KeyTypeAddress,
				TokenType:      query.TokenType,
				Key:            hex.EncodeToString(derived.PublicKey),
				PublicKey:      derived.PublicKey,
				DerivationPath: path.String(),
			})
		}
	}

	return keys, nil
}
