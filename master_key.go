package cardwallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// MasterKey is the key material imported into a card wallet.
type MasterKey struct {
	PrivateKey []byte
	ChainCode  []byte
}

// SeedFromMnemonic validates mnemonic and stretches it into a BIP39 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	return seed, nil
}

// NewMnemonic returns a fresh 12 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NewMasterKey derives the master key of curve from seed.
func NewMasterKey(curve EllipticCurve, seed []byte) (MasterKey, error) {
	switch curve {
	case Secp256k1, Bip0340:
		key, err := bip32.NewMasterKey(seed)
		if err != nil {
			return MasterKey{}, errors.Wrap(err, "bip32 master key")
		}
		return MasterKey{PrivateKey: key.Key, ChainCode: key.ChainCode}, nil

	case Ed25519, Ed25519Slip0010:
		return slip10MasterKey(seed), nil

	case Bls12381G2Aug:
		privateKey, err := eip2333MasterKey(seed)
		if err != nil {
			return MasterKey{}, err
		}
		return MasterKey{PrivateKey: privateKey}, nil

	default:
		return MasterKey{}, errors.Wrapf(ErrKeysImportNotAllowed, "curve %s", curve)
	}
}

func slip10MasterKey(seed []byte) MasterKey {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return MasterKey{PrivateKey: sum[:32], ChainCode: sum[32:]}
}

// eip2333MasterKey implements derive_master_SK.
func eip2333MasterKey(seed []byte) ([]byte, error) {
	if len(seed) < 32 {
		return nil, errors.New("seed must be at least 32 bytes")
	}

	const l = 48
	order := fr.Modulus()
	salt := []byte("BLS-SIG-KEYGEN-SALT-")
	ikm := append(append([]byte(nil), seed...), 0x00)

	sk := new(big.Int)
	for sk.Sign() == 0 {
		digest := sha256.Sum256(salt)
		salt = digest[:]

		prk := hkdf.Extract(sha256.New, ikm, salt)
		okm := make([]byte, l)
		if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte{0x00, l}), okm); err != nil {
			return nil, errors.Wrap(err, "hkdf expand")
		}

		sk.SetBytes(okm)
		sk.Mod(sk, order)
	}

	return sk.FillBytes(make([]byte, 32)), nil
}
