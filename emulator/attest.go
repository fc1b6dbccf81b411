package emulator

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// attestationMagic prefixes the challenge signed by check.
const attestationMagic = "CARDWALLET"

// Emulated cards are certified by a batch key, itself certified by the
// factory root.
var (
	factoryKey = deterministicKey("cardwallet emulator factory root")
	batchKey   = deterministicKey("cardwallet emulator batch")
)

func deterministicKey(label string) *secp256k1.PrivateKey {
	seed := sha256.Sum256([]byte(label))
	return secp256k1.PrivKeyFromBytes(seed[:])
}

// FactoryPublicKey is the root key that certifies every genuine emulated card.
func FactoryPublicKey() []byte {
	return factoryKey.PubKey().SerializeCompressed()
}

// certify signs the digest of publicKey with a recoverable signature.
func certify(signer *secp256k1.PrivateKey, publicKey *secp256k1.PublicKey) []byte {
	digest := sha256.Sum256(publicKey.SerializeCompressed())
	return ecdsa.SignCompact(signer, digest[:], true)
}

// certificateChain links cardKey to the factory root. A counterfeit card
// carries a chain to a root of its own.
func certificateChain(cardKey *secp256k1.PrivateKey, counterfeit bool) ([][]byte, error) {

	root := factoryKey
	if counterfeit {
		var err error
		if root, err = secp256k1.GeneratePrivateKey(); err != nil {
			return nil, err
		}
	}

	return [][]byte{
		certify(batchKey, cardKey.PubKey()),
		certify(root, batchKey.PubKey()),
	}, nil
}

func (card *Card) certs() ([]byte, error) {
	return card.reply(certsResponse{CardNonce: card.nextNonce(), CertificateChain: card.certificates})
}

// check signs the challenge with the card key, using the nonce the card
// handed out before this command.
func (card *Card) check(req *request) ([]byte, error) {

	if len(req.Nonce) != 16 {
		return card.fail(CodeInvalidCommand, "bad nonce")
	}

	message := append([]byte(attestationMagic), card.nonce[:]...)
	message = append(message, req.Nonce...)
	digest := sha256.Sum256(message)

	// Drop the recovery header, keeping r || s.
	signature := ecdsa.SignCompact(card.cardKey, digest[:], true)[1:]

	return card.reply(checkResponse{CardNonce: card.nextNonce(), AuthSignature: signature})
}
