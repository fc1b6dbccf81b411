package cardwallet

import (
	"github.com/rs/zerolog/log"
)

// CollectDerivations groups the paths needed for queries by the seed key of
// the wallet that derives them, so every wallet is asked once. Queries the
// card cannot serve are skipped.
func CollectDerivations(config CardConfig, card *Card, queries []TokenQuery) map[ByteArrayKey][]DerivationPath {

	derivations := map[ByteArrayKey][]DerivationPath{}

	for _, query := range queries {

		purpose, err := query.TokenType.ResolvePurpose()
		if err != nil {
			log.Warn().Err(err).Stringer("query", query).Msg("Skipping derivation")
			continue
		}

		path, ok := config.Derivation(query.BlockchainType, purpose)
		if !ok {
			continue
		}

		wallet, ok := SelectWallet(config, card, query.BlockchainType)
		if !ok {
			log.Debug().Stringer("query", query).Msg("No wallet")
			continue
		}
		if !wallet.CanDerive() {
			log.Debug().Stringer("query", query).Stringer("curve", wallet.Curve).Msg("Wallet cannot derive")
			continue
		}

		seed := NewByteArrayKey(wallet.PublicKey)
		if !containsPath(derivations[seed], path) {
			derivations[seed] = append(derivations[seed], path)
		}
	}

	return derivations
}

func containsPath(paths []DerivationPath, path DerivationPath) bool {
	for _, p := range paths {
		if p.Equal(path) {
			return true
		}
	}
	return false
}
