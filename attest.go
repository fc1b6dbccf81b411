package cardwallet

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// attestationMagic prefixes the challenge a card signs to prove it holds its
// key.
const attestationMagic = "CARDWALLET"

type attestState int

const (
	attestReadCard attestState = iota
	attestCerts
	attestCheck
	attestDone
)

// attestCardTask proves the card is genuine: the card signs a fresh challenge
// with its key, and its certificate chain links that key to the factory root.
type attestCardTask struct {
	rootPublicKey *btcec.PublicKey

	state            attestState
	read             readCardTask
	appNonce         []byte
	cardNonce        [16]byte
	certificateChain [][65]byte
}

func newAttestCardTask(rootPublicKey []byte) (*attestCardTask, error) {
	root, err := btcec.ParsePubKey(rootPublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid factory root key")
	}
	return &attestCardTask{rootPublicKey: root}, nil
}

func (t *attestCardTask) next(response any) (request, error) {

	switch t.state {

	case attestReadCard:
		req, err := t.read.next(response)
		if err != nil || req != nil {
			return req, err
		}
		t.state = attestCerts
		return &certsCommand{command{Cmd: cmdCerts}}, nil

	case attestCerts:
		data, err := expect[certsData](response)
		if err != nil {
			return nil, err
		}

		log.Debug().Int("certificates", len(data.CertificateChain)).Msg("Parse certs")

		t.certificateChain = data.CertificateChain
		t.cardNonce = data.CardNonce

		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		t.appNonce = nonce
		t.state = attestCheck

		return &checkCommand{command: command{Cmd: cmdCheck}, Nonce: nonce}, nil

	case attestCheck:
		data, err := expect[checkData](response)
		if err != nil {
			return nil, err
		}

		log.Debug().Msg("Parse check")

		if err := t.verify(data.AuthSignature); err != nil {
			return nil, err
		}
		t.state = attestDone
		return nil, nil

	default:
		return nil, nil
	}
}

func (t *attestCardTask) verify(authSignature [64]byte) error {

	message := append([]byte(attestationMagic), t.cardNonce[:]...)
	message = append(message, t.appNonce...)
	messageDigest := sha256.Sum256(message)

	r := new(btcec.ModNScalar)
	r.SetByteSlice(authSignature[0:32])

	s := new(btcec.ModNScalar)
	s.SetByteSlice(authSignature[32:64])

	signature := ecdsa.NewSignature(r, s)

	publicKey, err := btcec.ParsePubKey(t.read.card.CardPublicKey)
	if err != nil {
		return err
	}

	if !signature.Verify(messageDigest[:], publicKey) {
		return errors.Wrap(ErrCounterfeitCard, "invalid challenge signature")
	}

	for _, certificate := range t.certificateChain {
		publicKey, err = signatureToPublicKey(certificate, publicKey)
		if err != nil {
			return errors.Wrap(ErrCounterfeitCard, err.Error())
		}
	}

	if !t.rootPublicKey.IsEqual(publicKey) {
		log.Debug().
			Hex("root", t.rootPublicKey.SerializeCompressed()).
			Hex("chain", publicKey.SerializeCompressed()).
			Msg("Certificate chain does not reach the factory root")
		return errors.Wrap(ErrCounterfeitCard, "invalid factory root public key")
	}

	return nil
}

// recID normalizes the header byte of a recoverable signature to the form
// ecdsa.RecoverCompact expects. Headers in [39, 42] and [27, 30] carry the
// recovery id in their low bits.
func recID(signature []byte) (byte, error) {

	if len(signature) == 0 {
		return 0, errors.New("empty signature")
	}

	firstByte := signature[0]

	// ecdsa.RecoverCompact subtracts 27 from the header.
	const offset = 27

	switch {
	case firstByte >= 39 && firstByte <= 42:
		return firstByte - 39 + offset, nil
	case firstByte >= 27 && firstByte <= 30:
		return firstByte - 27 + offset, nil
	default:
		return firstByte, nil
	}
}

// signatureToPublicKey recovers the key that certified publicKey.
func signatureToPublicKey(signature [65]byte, publicKey *btcec.PublicKey) (*btcec.PublicKey, error) {

	messageDigest := sha256.Sum256(publicKey.SerializeCompressed())

	header, err := recID(signature[:])
	if err != nil {
		return nil, err
	}

	compact := append([]byte{header}, signature[1:]...)

	recovered, _, err := ecdsa.RecoverCompact(compact, messageDigest[:])

	return recovered, err
}
