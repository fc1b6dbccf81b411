package cardwallet

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectWallet(t *testing.T) {

	secp := CardWallet{PublicKey: []byte{1}, Curve: Secp256k1}
	ed := CardWallet{PublicKey: []byte{2}, Curve: Ed25519}
	slip10 := CardWallet{PublicKey: []byte{3}, Curve: Ed25519Slip0010}

	wallet1 := CardConfig{Generation: GenerationWallet1}
	wallet2 := CardConfig{Generation: GenerationWallet2}

	t.Run("multi-curve cards use the primary curve", func(t *testing.T) {
		card := &Card{Wallets: []CardWallet{secp, ed, slip10}}

		wallet, ok := SelectWallet(wallet2, card, Solana)
		require.True(t, ok)
		assert.Equal(t, slip10, wallet)

		_, ok = SelectWallet(wallet2, &Card{Wallets: []CardWallet{secp}}, Ton)
		assert.False(t, ok)
	})

	t.Run("older cards use their only wallet", func(t *testing.T) {
		wallet, ok := SelectWallet(wallet1, &Card{Wallets: []CardWallet{ed}}, Bitcoin)
		require.True(t, ok)
		assert.Equal(t, ed, wallet)
	})

	t.Run("older cards prefer secp256k1", func(t *testing.T) {
		card := &Card{Wallets: []CardWallet{ed, secp}}

		for _, blockchain := range []BlockchainType{Solana, Ethereum, Bitcoin} {
			wallet, ok := SelectWallet(wallet1, card, blockchain)
			require.True(t, ok)
			assert.Equal(t, secp, wallet, blockchain)
		}
	})

	t.Run("older cards fall back to the first wallet", func(t *testing.T) {
		card := &Card{Wallets: []CardWallet{slip10, ed}}
		wallet, ok := SelectWallet(wallet1, card, Solana)
		require.True(t, ok)
		assert.Equal(t, slip10, wallet)
	})

	t.Run("no wallets", func(t *testing.T) {
		_, ok := SelectWallet(wallet1, &Card{}, Bitcoin)
		assert.False(t, ok)
	})
}

func TestBuildHardwarePublicKeys(t *testing.T) {

	deriver := newHDDeriver(t)
	wallet := deriver.wallet(t)

	ethPath := MustParseDerivationPath("m/44'/60'/0'/0/0")
	ethKey, err := deriver.key(ethPath)
	require.NoError(t, err)

	scan := &ScanResponse{
		Card: &Card{
			FirmwareVersion: FirmwareVersion{Major: 6, Minor: 33},
			Wallets:         []CardWallet{wallet},
		},
		DerivedKeys: DerivedKeys{},
	}
	scan.DerivedKeys.Merge(wallet.PublicKey, ExtendedPublicKeys{ethPath.String(): ethKey})

	keys, err := BuildHardwarePublicKeys(context.Background(), scan, deriver, "account-1", []TokenQuery{
		{BlockchainType: Bitcoin, TokenType: DerivedToken(Bip84)},
		{BlockchainType: Ethereum, TokenType: NativeToken()},
		{BlockchainType: Solana, TokenType: NativeToken()},
		{BlockchainType: Ethereum, TokenType: DerivedToken(Bip84)},
	})
	require.NoError(t, err)
	require.Len(t, keys, 2, "no ed25519 wallet for solana and no bip84 for ethereum")

	bitcoin := keys[0]
	assert.Equal(t, "account-1", bitcoin.AccountID)
	assert.Equal(t, KeyTypePublicKey, bitcoin.Type)
	assert.Equal(t, "m/84'/0'/0'", bitcoin.DerivationPath)
	assert.Contains(t, bitcoin.Key, "zpub")
	assert.NoError(t, bitcoin.Verify())

	ethereum := keys[1]
	assert.Equal(t, KeyTypeAddress, ethereum.Type)
	assert.Equal(t, ethPath.String(), ethereum.DerivationPath)
	assert.Equal(t, hex.EncodeToString(ethKey.PublicKey), ethereum.Key)
	assert.NoError(t, ethereum.Verify())

	require.Len(t, deriver.calls, 1, "the bitcoin account and its parent are fetched together")
	_, ok := scan.DerivedKeys.Get(wallet.PublicKey, MustParseDerivationPath("m/84'/0'/0'"))
	assert.True(t, ok)
}

func TestBuildHardwarePublicKeysWithoutHD(t *testing.T) {

	deriver := newHDDeriver(t)
	wallet := deriver.wallet(t)
	wallet.ChainCode = nil

	scan := &ScanResponse{Card: &Card{FirmwareVersion: FirmwareVersion{Major: 6, Minor: 33}, Wallets: []CardWallet{wallet}}}

	keys, err := BuildHardwarePublicKeys(context.Background(), scan, deriver, "account-1", []TokenQuery{
		{BlockchainType: Bitcoin, TokenType: NativeToken()},
		{BlockchainType: Ethereum, TokenType: NativeToken()},
	})
	require.NoError(t, err)
	require.Len(t, keys, 1)

	assert.Equal(t, "m", keys[0].DerivationPath)
	assert.Equal(t, wallet.PublicKey, keys[0].PublicKey)
	assert.NoError(t, keys[0].Verify())
	assert.Empty(t, deriver.calls)
}

func TestHardwarePublicKeyVerify(t *testing.T) {

	deriver := newHDDeriver(t)
	wallet := deriver.wallet(t)

	scan := &ScanResponse{Card: &Card{FirmwareVersion: FirmwareVersion{Major: 6, Minor: 33}, Wallets: []CardWallet{wallet}}}
	keys, err := BuildHardwarePublicKeys(context.Background(), scan, deriver, "account-1", []TokenQuery{
		{BlockchainType: Bitcoin, TokenType: NativeToken()},
	})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, keys[0].Verify())

	t.Run("keeps fetched keys on the scan", func(t *testing.T) {
		_, ok := scan.DerivedKeys.Get(wallet.PublicKey, MustParseDerivationPath(keys[0].DerivationPath))
		assert.True(t, ok)

		_, err := BuildHardwarePublicKeys(context.Background(), scan, deriver, "account-1", []TokenQuery{
			{BlockchainType: Bitcoin, TokenType: NativeToken()},
		})
		require.NoError(t, err)
		assert.Len(t, deriver.calls, 1, "the second build is served from the scan")
	})

	t.Run("rejects a key at another depth", func(t *testing.T) {
		key := keys[0]
		key.DerivationPath = "m/44'/0'"
		assert.Error(t, key.Verify())
	})

	t.Run("rejects another public key", func(t *testing.T) {
		key := keys[0]
		key.PublicKey = wallet.PublicKey
		assert.Error(t, key.Verify())
	})

	t.Run("rejects a mismatched address key", func(t *testing.T) {
		key := HardwarePublicKey{Type: KeyTypeAddress, PublicKey: []byte{1, 2}, Key: "0103", DerivationPath: "m"}
		assert.Error(t, key.Verify())
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		assert.Error(t, HardwarePublicKey{Type: "SEED", DerivationPath: "m"}.Verify())
	})
}
