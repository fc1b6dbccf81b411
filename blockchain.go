package cardwallet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

// BlockchainType identifies a blockchain the card can hold keys for.
type BlockchainType string

const (
	Bitcoin           BlockchainType = "bitcoin"
	BitcoinCash       BlockchainType = "bitcoin-cash"
	Litecoin          BlockchainType = "litecoin"
	Dogecoin          BlockchainType = "dogecoin"
	Ethereum          BlockchainType = "ethereum"
	BinanceSmartChain BlockchainType = "binance-smart-chain"
	Polygon           BlockchainType = "polygon"
	Tron              BlockchainType = "tron"
	Solana            BlockchainType = "solana"
	Ton               BlockchainType = "the-open-network"
)

// Purpose is the BIP44-style purpose selecting an account structure.
type Purpose uint32

const (
	PurposeUnknown Purpose = 0
	Bip44          Purpose = 44
	Bip49          Purpose = 49
	Bip84          Purpose = 84
	Bip86          Purpose = 86
)

func (purpose Purpose) String() string {
	switch purpose {
	case Bip44, Bip49, Bip84, Bip86:
		return fmt.Sprintf("bip%d", uint32(purpose))
	default:
		return "unknown"
	}
}

// ParsePurpose parses "bip44", "bip49", "bip84" or "bip86".
func ParsePurpose(name string) (Purpose, error) {
	for _, purpose := range []Purpose{Bip44, Bip49, Bip84, Bip86} {
		if purpose.String() == name {
			return purpose, nil
		}
	}
	return PurposeUnknown, errors.Wrapf(ErrUnsupportedPurpose, "%q", name)
}

// TokenKind distinguishes native coins, derivation-typed coins and tokens.
type TokenKind string

const (
	TokenNative       TokenKind = "native"
	TokenDerived      TokenKind = "derived"
	TokenAddressTyped TokenKind = "address_type"
	TokenEip20        TokenKind = "eip20"
	TokenBep20        TokenKind = "bep20"
	TokenSpl          TokenKind = "spl"
	TokenTrc20        TokenKind = "trc20"
)

// TokenType describes what is held on a blockchain: the native coin, a coin
// with an explicit derivation, or a contract token.
type TokenType struct {
	Kind    TokenKind `json:"kind"`
	Purpose Purpose   `json:"purpose,omitempty"`
	Value   string    `json:"value,omitempty"` // contract address or address type
}

func NativeToken() TokenType {
	return TokenType{Kind: TokenNative}
}

func DerivedToken(purpose Purpose) TokenType {
	return TokenType{Kind: TokenDerived, Purpose: purpose}
}

func ContractToken(kind TokenKind, address string) TokenType {
	return TokenType{Kind: kind, Value: address}
}

func (tokenType TokenType) String() string {
	switch tokenType.Kind {
	case TokenNative:
		return string(TokenNative)
	case TokenDerived:
		return fmt.Sprintf("%s:%s", tokenType.Kind, tokenType.Purpose)
	default:
		return fmt.Sprintf("%s:%s", tokenType.Kind, tokenType.Value)
	}
}

// ParseTokenType is the inverse of TokenType.String.
func ParseTokenType(s string) (TokenType, error) {
	kind, value, _ := strings.Cut(s, ":")
	switch TokenKind(kind) {
	case TokenNative:
		return NativeToken(), nil
	case TokenDerived:
		purpose, err := ParsePurpose(value)
		if err != nil {
			return TokenType{}, err
		}
		return DerivedToken(purpose), nil
	case TokenAddressTyped, TokenEip20, TokenBep20, TokenSpl, TokenTrc20:
		if value == "" {
			return TokenType{}, errors.Errorf("token type %q needs a value", s)
		}
		return TokenType{Kind: TokenKind(kind), Value: value}, nil
	default:
		return TokenType{}, errors.Errorf("unknown token type %q", s)
	}
}

// Purpose resolves the account structure the token is derived under.
func (tokenType TokenType) ResolvePurpose() (Purpose, error) {
	switch tokenType.Kind {
	case TokenDerived:
		switch tokenType.Purpose {
		case Bip44, Bip49, Bip84, Bip86:
			return tokenType.Purpose, nil
		default:
			return PurposeUnknown, errors.Wrapf(ErrUnsupportedPurpose, "token type %s", tokenType)
		}
	default:
		return Bip44, nil
	}
}

// TokenQuery asks for the key of one token on one blockchain.
type TokenQuery struct {
	BlockchainType BlockchainType `json:"blockchain_type"`
	TokenType      TokenType      `json:"token_type"`
}

func (query TokenQuery) String() string {
	return fmt.Sprintf("%s/%s", query.BlockchainType, query.TokenType)
}

// KeyExposure says how a blockchain's key is handed to the rest of the app.
type KeyExposure int

const (
	// ExposeAddress publishes the hex encoded derived public key.
	ExposeAddress KeyExposure = iota
	// ExposeExtendedKey publishes a serialized account-level extended key.
	ExposeExtendedKey
)

type blockchainInfo struct {
	coinType uint32
	exposure KeyExposure
	purposes []Purpose
	// accountOnly chains stop at the hardened account node.
	accountOnly bool
	versions    map[Purpose][]byte
}

var (
	versionXpub = chaincfg.MainNetParams.HDPublicKeyID[:]
	versionYpub = []byte{0x04, 0x9d, 0x7c, 0xb2}
	versionZpub = []byte{0x04, 0xb2, 0x47, 0x46}
	versionLtub = []byte{0x01, 0x9d, 0xa4, 0x62}
	versionMtub = []byte{0x01, 0xb2, 0x6e, 0xf6}
	versionDgub = []byte{0x02, 0xfa, 0xca, 0xfd}
)

var blockchains = map[BlockchainType]blockchainInfo{
	Bitcoin: {
		coinType: 0,
		exposure: ExposeExtendedKey,
		purposes: []Purpose{Bip44, Bip49, Bip84, Bip86},
		versions: map[Purpose][]byte{Bip44: versionXpub, Bip49: versionYpub, Bip84: versionZpub, Bip86: versionXpub},
	},
	BitcoinCash: {
		coinType: 145,
		exposure: ExposeExtendedKey,
		purposes: []Purpose{Bip44},
		versions: map[Purpose][]byte{Bip44: versionXpub},
	},
	Litecoin: {
		coinType: 2,
		exposure: ExposeExtendedKey,
		purposes: []Purpose{Bip44, Bip49, Bip84},
		versions: map[Purpose][]byte{Bip44: versionLtub, Bip49: versionMtub, Bip84: versionZpub},
	},
	Dogecoin: {
		coinType: 3,
		exposure: ExposeExtendedKey,
		purposes: []Purpose{Bip44},
		versions: map[Purpose][]byte{Bip44: versionDgub},
	},
	Ethereum:          {coinType: 60, exposure: ExposeAddress, purposes: []Purpose{Bip44}},
	BinanceSmartChain: {coinType: 60, exposure: ExposeAddress, purposes: []Purpose{Bip44}},
	Polygon:           {coinType: 60, exposure: ExposeAddress, purposes: []Purpose{Bip44}},
	Tron:              {coinType: 195, exposure: ExposeAddress, purposes: []Purpose{Bip44}},
	Solana:            {coinType: 501, exposure: ExposeAddress, purposes: []Purpose{Bip44}, accountOnly: true},
	Ton:               {coinType: 607, exposure: ExposeAddress, purposes: []Purpose{Bip44}, accountOnly: true},
}

// Exposure reports how keys of the blockchain are published.
func (blockchain BlockchainType) Exposure() (KeyExposure, bool) {
	info, ok := blockchains[blockchain]
	return info.exposure, ok
}

// ExtendedKeyVersion returns the serialization version bytes for purpose.
func (blockchain BlockchainType) ExtendedKeyVersion(purpose Purpose) ([]byte, bool) {
	info, ok := blockchains[blockchain]
	if !ok {
		return nil, false
	}
	version, ok := info.versions[purpose]
	return version, ok
}

// ParseBlockchainType accepts the identifiers used in persisted records.
func ParseBlockchainType(s string) (BlockchainType, error) {
	if _, ok := blockchains[BlockchainType(s)]; !ok {
		return "", errors.Errorf("unknown blockchain %q", s)
	}
	return BlockchainType(s), nil
}

func (blockchain *BlockchainType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBlockchainType(s)
	if err != nil {
		return err
	}
	*blockchain = parsed
	return nil
}
