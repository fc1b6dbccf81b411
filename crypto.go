package cardwallet

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
)

// generateSharedSecret performs ECDH and returns the compressed shared point.
// It should be hashed before use as a key.
func generateSharedSecret(privateKey *secp256k1.PrivateKey, publicKey *secp256k1.PublicKey) []byte {

	var point, result secp256k1.JacobianPoint
	publicKey.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&privateKey.Key, &point, &result)
	result.ToAffine()

	return secp256k1.NewPublicKey(&result.X, &result.Y).SerializeCompressed()
}

// xor performs a bitwise XOR of two equal length byte slices.
func xor(a, b []byte) ([]byte, error) {

	if len(a) != len(b) {
		return nil, errors.New("input slices have different lengths")
	}
	c := make([]byte, len(a))
	for i := range a {
		c[i] = a[i] ^ b[i]
	}
	return c, nil
}

// authenticate builds the auth fields for cmd: an ephemeral public key and the
// access code hash masked with the session key and the card nonce.
func authenticate(cardPublicKey *secp256k1.PublicKey, accessCode string, cardNonce [16]byte, cmd string) (auth, [32]byte, error) {

	ephemeralPrivateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return auth{}, [32]byte{}, err
	}

	sessionKey := sha256.Sum256(generateSharedSecret(ephemeralPrivateKey, cardPublicKey))

	md := sha256.Sum256(append(cardNonce[:], []byte(cmd)...))

	mask, err := xor(sessionKey[:], md[:])
	if err != nil {
		return auth{}, [32]byte{}, err
	}

	codeHash := sha256.Sum256([]byte(accessCode))

	xcvc, err := xor(codeHash[:], mask)
	if err != nil {
		return auth{}, [32]byte{}, err
	}

	return auth{EphemeralPubKey: ephemeralPrivateKey.PubKey().SerializeCompressed(), XCVC: xcvc}, sessionKey, nil
}
