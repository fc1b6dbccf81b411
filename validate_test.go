package cardwallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func walletsOn(curves ...EllipticCurve) []CardWallet {
	wallets := make([]CardWallet, 0, len(curves))
	for i, curve := range curves {
		wallets = append(wallets, CardWallet{PublicKey: []byte{byte(i)}, Curve: curve})
	}
	return wallets
}

func TestValidateWallets(t *testing.T) {
	tests := []struct {
		name     string
		wallets  []CardWallet
		expected []EllipticCurve
		valid    bool
	}{
		{"same curves", walletsOn(Secp256k1, Ed25519), []EllipticCurve{Secp256k1, Ed25519}, true},
		{"any order", walletsOn(Ed25519, Secp256k1), []EllipticCurve{Secp256k1, Ed25519}, true},
		{"missing curve", walletsOn(Secp256k1), []EllipticCurve{Secp256k1, Ed25519}, false},
		{"extra curve", walletsOn(Secp256k1, Ed25519, Bip0340), []EllipticCurve{Secp256k1, Ed25519}, false},
		{"duplicate instead of missing", walletsOn(Secp256k1, Secp256k1, Ed25519), []EllipticCurve{Secp256k1, Bip0340, Ed25519}, false},
		{"nothing expected", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, validateWallets(tt.wallets, tt.expected))
		})
	}
}

func TestBackupValidator(t *testing.T) {

	wallet2 := BackupValidator{Config: CardConfig{Generation: GenerationWallet2}}

	t.Run("accepts a complete card", func(t *testing.T) {
		card := &Card{BackupStatus: BackupStatusNoBackup, Wallets: walletsOn(multiCurves...)}
		assert.True(t, wallet2.IsValidFull(card))
	})

	t.Run("accepts a card without the exempt curve", func(t *testing.T) {
		card := &Card{BackupStatus: BackupStatusNoBackup, Wallets: walletsOn(Secp256k1, Ed25519, Bls12381G2Aug, Bip0340)}
		assert.NoError(t, wallet2.Validate(card))
	})

	t.Run("rejects a duplicated exempt curve", func(t *testing.T) {
		card := &Card{Wallets: walletsOn(Secp256k1, Ed25519, Bls12381G2Aug, Bip0340, Ed25519Slip0010, Ed25519Slip0010)}
		assert.ErrorIs(t, wallet2.Validate(card), ErrCurveDuplicated)
	})

	t.Run("rejects a missing mandatory curve", func(t *testing.T) {
		card := &Card{Wallets: walletsOn(Secp256k1, Ed25519, Bip0340)}
		assert.ErrorIs(t, wallet2.Validate(card), ErrCurveMissing)
		assert.False(t, wallet2.IsValidFull(card))
	})

	t.Run("rejects a duplicated mandatory curve", func(t *testing.T) {
		card := &Card{Wallets: walletsOn(Secp256k1, Secp256k1, Ed25519, Bls12381G2Aug, Bip0340)}
		assert.ErrorIs(t, wallet2.Validate(card), ErrCurveDuplicated)
	})

	t.Run("rejects a linked card", func(t *testing.T) {
		card := &Card{BackupStatus: BackupStatusCardLinked, Wallets: walletsOn(multiCurves...)}
		assert.ErrorIs(t, wallet2.Validate(card), ErrBackupStatusMismatch)
	})

	t.Run("accepts every other backup status", func(t *testing.T) {
		for _, status := range []BackupStatus{BackupStatusUnknown, BackupStatusNoBackup, BackupStatusActive} {
			card := &Card{BackupStatus: status, Wallets: walletsOn(multiCurves...)}
			assert.True(t, wallet2.validateBackupStatus(card), status.String())
		}
	})

	t.Run("first generation has no exempt curves", func(t *testing.T) {
		wallet1 := BackupValidator{Config: CardConfig{Generation: GenerationWallet1}}
		assert.ErrorIs(t, wallet1.Validate(&Card{Wallets: walletsOn(Secp256k1)}), ErrCurveMissing)
		assert.NoError(t, wallet1.Validate(&Card{Wallets: walletsOn(Secp256k1, Ed25519)}))
	})
}
