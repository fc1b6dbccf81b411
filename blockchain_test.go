package cardwallet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenType(t *testing.T) {

	tests := []struct {
		token TokenType
		text  string
	}{
		{NativeToken(), "native"},
		{DerivedToken(Bip84), "derived:bip84"},
		{ContractToken(TokenEip20, "0xdac17f958d2ee523a2206206994597c13d831ec7"), "eip20:0xdac17f958d2ee523a2206206994597c13d831ec7"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.token.String())
			parsed, err := ParseTokenType(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.token, parsed)
		})
	}

	for _, invalid := range []string{"derived:bip32", "eip20", "nft:1"} {
		t.Run("rejects "+invalid, func(t *testing.T) {
			_, err := ParseTokenType(invalid)
			assert.Error(t, err)
		})
	}
}

func TestResolvePurpose(t *testing.T) {

	purpose, err := NativeToken().ResolvePurpose()
	require.NoError(t, err)
	assert.Equal(t, Bip44, purpose)

	purpose, err = ContractToken(TokenSpl, "mint").ResolvePurpose()
	require.NoError(t, err)
	assert.Equal(t, Bip44, purpose)

	purpose, err = DerivedToken(Bip86).ResolvePurpose()
	require.NoError(t, err)
	assert.Equal(t, Bip86, purpose)

	_, err = DerivedToken(Purpose(0)).ResolvePurpose()
	assert.ErrorIs(t, err, ErrUnsupportedPurpose)
}

func TestBlockchainType(t *testing.T) {

	exposure, ok := Bitcoin.Exposure()
	require.True(t, ok)
	assert.Equal(t, ExposeExtendedKey, exposure)

	exposure, ok = Solana.Exposure()
	require.True(t, ok)
	assert.Equal(t, ExposeAddress, exposure)

	version, ok := Bitcoin.ExtendedKeyVersion(Bip84)
	require.True(t, ok)
	assert.Equal(t, []byte{0x04, 0xb2, 0x47, 0x46}, version)

	_, ok = Ethereum.ExtendedKeyVersion(Bip44)
	assert.False(t, ok)

	_, err := ParseBlockchainType("ripple")
	assert.Error(t, err)

	var query TokenQuery
	require.NoError(t, json.Unmarshal([]byte(`{"blockchain_type":"the-open-network","token_type":{"kind":"native"}}`), &query))
	assert.Equal(t, TokenQuery{BlockchainType: Ton, TokenType: NativeToken()}, query)

	assert.Error(t, json.Unmarshal([]byte(`{"blockchain_type":"ripple"}`), &query))
}
