package cardwallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCardConfigFor(t *testing.T) {
	tests := []struct {
		name       string
		batch      string
		firmware   FirmwareVersion
		generation CardGeneration
		product    ProductType
	}{
		{"old firmware", "AF99", FirmwareVersion{4, 52}, GenerationWallet1, ProductWallet},
		{"just below multi-curve", "AF99", FirmwareVersion{6, 20}, GenerationWallet1, ProductWallet},
		{"multi-curve firmware", "AF99", FirmwareVersion{6, 21}, GenerationWallet2, ProductWallet2},
		{"ring batch", "AC17", FirmwareVersion{6, 33}, GenerationRing, ProductRing},
		{"ring batch lower case", "ba01", FirmwareVersion{6, 33}, GenerationRing, ProductRing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := CardConfigFor(&Card{BatchID: tt.batch, FirmwareVersion: tt.firmware})
			assert.Equal(t, tt.generation, config.Generation)
			assert.Equal(t, tt.product, config.ProductType())
		})
	}
}

func TestCardConfigCurves(t *testing.T) {

	wallet1 := CardConfig{Generation: GenerationWallet1}
	wallet2 := CardConfig{Generation: GenerationWallet2}

	assert.Equal(t, []EllipticCurve{Secp256k1, Ed25519}, wallet1.MandatoryCurves())
	assert.Empty(t, wallet1.ExemptFromValidation())
	assert.False(t, wallet1.IsMultiCurve())

	assert.Equal(t, []EllipticCurve{Secp256k1, Ed25519, Bls12381G2Aug, Bip0340, Ed25519Slip0010}, wallet2.MandatoryCurves())
	assert.Equal(t, []EllipticCurve{Ed25519Slip0010}, wallet2.ExemptFromValidation())
	assert.True(t, wallet2.IsMultiCurve())

	curves := wallet2.MandatoryCurves()
	curves[0] = CurveUnknown
	assert.Equal(t, Secp256k1, wallet2.MandatoryCurves()[0], "callers get a copy")

	assert.Equal(t, Ed25519, wallet1.PrimaryCurve(Solana))
	assert.Equal(t, Ed25519Slip0010, wallet2.PrimaryCurve(Solana))
	assert.Equal(t, Ed25519Slip0010, wallet2.PrimaryCurve(Ton))
	assert.Equal(t, Secp256k1, wallet2.PrimaryCurve(Ethereum))
	assert.Equal(t, Secp256k1, wallet2.PrimaryCurve(Bitcoin))
}

func TestCardConfigDefaultTokenQueries(t *testing.T) {

	wallet1 := CardConfig{Generation: GenerationWallet1}.DefaultTokenQueries()
	ring := CardConfig{Generation: GenerationRing}.DefaultTokenQueries()

	assert.Len(t, wallet1, 3)
	assert.Len(t, ring, 4)
	assert.Contains(t, ring, TokenQuery{BlockchainType: Ton, TokenType: NativeToken()})
	assert.NotContains(t, wallet1, TokenQuery{BlockchainType: Ton, TokenType: NativeToken()})
}

func TestCardConfigDerivation(t *testing.T) {
	config := CardConfig{Generation: GenerationWallet2}

	tests := []struct {
		blockchain BlockchainType
		purpose    Purpose
		path       string
		ok         bool
	}{
		{Bitcoin, Bip44, "m/44'/0'/0'/0/0", true},
		{Bitcoin, Bip49, "m/49'/0'/0'/0/0", true},
		{Bitcoin, Bip84, "m/84'/0'/0'/0/0", true},
		{Bitcoin, Bip86, "m/86'/0'/0'/0/0", true},
		{Litecoin, Bip84, "m/84'/2'/0'/0/0", true},
		{Ethereum, Bip44, "m/44'/60'/0'/0/0", true},
		{Polygon, Bip44, "m/44'/60'/0'/0/0", true},
		{Tron, Bip44, "m/44'/195'/0'/0/0", true},
		{Solana, Bip44, "m/44'/501'/0'", true},
		{Ton, Bip44, "m/44'/607'/0'", true},
		{Ethereum, Bip84, "", false},
		{Dogecoin, Bip86, "", false},
		{BlockchainType("unknown"), Bip44, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.blockchain)+"/"+tt.purpose.String(), func(t *testing.T) {
			path, ok := config.Derivation(tt.blockchain, tt.purpose)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.path, path.String())
			}
		})
	}
}
