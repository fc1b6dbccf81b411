package cardwallet

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Firmware versions that gate card features.
var (
	FirmwareReadWallets = FirmwareVersion{Major: 4, Minor: 39}
	FirmwareKeysImport  = FirmwareVersion{Major: 6, Minor: 16}
	FirmwareMultiCurve  = FirmwareVersion{Major: 6, Minor: 21}
)

// ringBatches are the batch ids of ring form-factor cards.
var ringBatches = []string{"AC17", "BA01"}

// CardGeneration tags the policy a card is provisioned under.
type CardGeneration int

const (
	GenerationWallet1 CardGeneration = iota
	GenerationWallet2
	GenerationRing
)

func (generation CardGeneration) String() string {
	switch generation {
	case GenerationWallet2:
		return "wallet2"
	case GenerationRing:
		return "ring"
	default:
		return "wallet"
	}
}

// ProductType is the product classification shown to users.
type ProductType string

const (
	ProductWallet  ProductType = "Wallet"
	ProductWallet2 ProductType = "Wallet2"
	ProductRing    ProductType = "Ring"
)

type generationPolicy struct {
	productType     ProductType
	mandatoryCurves []EllipticCurve
	exempt          []EllipticCurve
	ed25519Curve    EllipticCurve
	defaults        []TokenQuery
}

var multiCurves = []EllipticCurve{Secp256k1, Ed25519, Bls12381G2Aug, Bip0340, Ed25519Slip0010}

var defaultTokenQueries = []TokenQuery{
	{BlockchainType: Bitcoin, TokenType: NativeToken()},
	{BlockchainType: Ethereum, TokenType: NativeToken()},
	{BlockchainType: Solana, TokenType: NativeToken()},
}

var policies = map[CardGeneration]generationPolicy{
	GenerationWallet1: {
		productType:     ProductWallet,
		mandatoryCurves: []EllipticCurve{Secp256k1, Ed25519},
		ed25519Curve:    Ed25519,
		defaults:        defaultTokenQueries,
	},
	GenerationWallet2: {
		productType:     ProductWallet2,
		mandatoryCurves: multiCurves,
		exempt:          []EllipticCurve{Ed25519Slip0010},
		ed25519Curve:    Ed25519Slip0010,
		defaults:        append(defaultTokenQueries, TokenQuery{BlockchainType: Ton, TokenType: NativeToken()}),
	},
	GenerationRing: {
		productType:     ProductRing,
		mandatoryCurves: multiCurves,
		exempt:          []EllipticCurve{Ed25519Slip0010},
		ed25519Curve:    Ed25519Slip0010,
		defaults:        append(defaultTokenQueries, TokenQuery{BlockchainType: Ton, TokenType: NativeToken()}),
	},
}

// CardConfig is the curve and derivation policy of one card generation. It is
// selected once per session with CardConfigFor.
type CardConfig struct {
	Generation CardGeneration
}

// CardConfigFor selects the policy for card.
func CardConfigFor(card *Card) CardConfig {
	for _, batch := range ringBatches {
		if strings.EqualFold(card.BatchID, batch) {
			return CardConfig{Generation: GenerationRing}
		}
	}
	if card.FirmwareVersion.AtLeast(FirmwareMultiCurve) {
		return CardConfig{Generation: GenerationWallet2}
	}
	return CardConfig{Generation: GenerationWallet1}
}

func (config CardConfig) policy() generationPolicy {
	return policies[config.Generation]
}

func (config CardConfig) ProductType() ProductType {
	return config.policy().productType
}

// MandatoryCurves lists the curves a provisioned card must hold, in creation
// order.
func (config CardConfig) MandatoryCurves() []EllipticCurve {
	return append([]EllipticCurve(nil), config.policy().mandatoryCurves...)
}

// ExemptFromValidation lists curves whose absence does not invalidate a card.
// Cards shipped before these curves existed lack them.
func (config CardConfig) ExemptFromValidation() []EllipticCurve {
	return append([]EllipticCurve(nil), config.policy().exempt...)
}

// IsMultiCurve reports whether wallets are picked by primary curve.
func (config CardConfig) IsMultiCurve() bool {
	return config.Generation != GenerationWallet1
}

func (config CardConfig) DefaultTokenQueries() []TokenQuery {
	return append([]TokenQuery(nil), config.policy().defaults...)
}

// PrimaryCurve is the curve of the wallet that holds keys for blockchain.
func (config CardConfig) PrimaryCurve(blockchain BlockchainType) EllipticCurve {
	switch blockchain {
	case Solana, Ton:
		return config.policy().ed25519Curve
	default:
		return Secp256k1
	}
}

// Derivation returns the path of blockchain's first address under purpose. ok
// is false for combinations the card does not support.
func (config CardConfig) Derivation(blockchain BlockchainType, purpose Purpose) (path DerivationPath, ok bool) {
	info, known := blockchains[blockchain]
	if !known || !containsPurpose(info.purposes, purpose) {
		log.Debug().Str("blockchain", string(blockchain)).Stringer("purpose", purpose).Msg("No derivation")
		return DerivationPath{}, false
	}

	path = DerivationPath{Nodes: []DerivationNode{
		{Index: uint32(purpose), Hardened: true},
		{Index: info.coinType, Hardened: true},
		{Index: 0, Hardened: true},
	}}
	if info.accountOnly {
		return path, true
	}
	return path.Append(DerivationNode{Index: 0}).Append(DerivationNode{Index: 0}), true
}

func containsPurpose(purposes []Purpose, purpose Purpose) bool {
	for _, p := range purposes {
		if p == purpose {
			return true
		}
	}
	return false
}
