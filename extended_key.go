package cardwallet

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Deriver asks the card for the keys at paths under the wallet seedKey, in one
// round trip.
type Deriver interface {
	DerivePublicKeys(ctx context.Context, seedKey []byte, paths []DerivationPath) (ExtendedPublicKeys, error)
}

// Fingerprint is the first four bytes of HASH160 of the compressed key.
func Fingerprint(publicKey []byte) ([4]byte, error) {

	var fingerprint [4]byte

	key, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return fingerprint, errors.Wrap(err, "invalid public key")
	}

	copy(fingerprint[:], btcutil.Hash160(key.SerializeCompressed())[:4])

	return fingerprint, nil
}

// Serialize encodes key in the base58check form with the given version bytes.
func (key ExtendedPublicKey) Serialize(version []byte) (string, error) {

	if len(version) != 4 {
		return "", errors.Errorf("invalid version length %d", len(version))
	}
	if len(key.ChainCode) != 32 {
		return "", errors.Errorf("invalid chain code length %d", len(key.ChainCode))
	}

	publicKey, err := btcec.ParsePubKey(key.PublicKey)
	if err != nil {
		return "", errors.Wrap(err, "invalid public key")
	}

	extended := hdkeychain.NewExtendedKey(
		version,
		publicKey.SerializeCompressed(),
		key.ChainCode,
		key.ParentFingerprint[:],
		key.Depth,
		key.ChildNumber,
		false,
	)

	return extended.String(), nil
}

// ExtendedKeyReconstructor completes the key material the card returns with
// the parent fingerprint a serialized extended key needs.
type ExtendedKeyReconstructor struct {
	Deriver Deriver
}

// Reconstruct builds the extended key of path under wallet. With bip44Style
// the account level key is built instead, two levels above path. Keys not in
// derived are requested from the card in a single call and merged into it.
// Either both the child and its parent are found or an error is returned.
func (reconstructor ExtendedKeyReconstructor) Reconstruct(
	ctx context.Context,
	wallet CardWallet,
	path DerivationPath,
	bip44Style bool,
	derived DerivedKeys,
) (ExtendedPublicKey, DerivationPath, error) {

	childPath := path
	if bip44Style {
		childPath = path.DropLast(2)
	}

	if childPath.IsMaster() {
		return ExtendedPublicKey{PublicKey: wallet.PublicKey, ChainCode: wallet.ChainCode}, childPath, nil
	}

	parentPath := childPath.DropLast(1)

	if derived == nil {
		derived = DerivedKeys{}
	}

	lookup := func(p DerivationPath) (ExtendedPublicKey, bool) {
		if p.IsMaster() {
			return ExtendedPublicKey{PublicKey: wallet.PublicKey, ChainCode: wallet.ChainCode}, true
		}
		return derived.Get(wallet.PublicKey, p)
	}

	var pending []DerivationPath
	for _, p := range []DerivationPath{childPath, parentPath} {
		if _, ok := lookup(p); !ok {
			pending = append(pending, p)
		}
	}

	if len(pending) > 0 {
		if reconstructor.Deriver == nil {
			return ExtendedPublicKey{}, childPath, errors.Wrapf(ErrUnexpectedResponse, "no key for %s", pending[0])
		}

		log.Debug().Int("pending", len(pending)).Stringer("path", childPath).Msg("Deriving missing keys")

		keys, err := reconstructor.Deriver.DerivePublicKeys(ctx, wallet.PublicKey, pending)
		if err != nil {
			return ExtendedPublicKey{}, childPath, err
		}
		derived.Merge(wallet.PublicKey, keys)
	}

	child, ok := lookup(childPath)
	if !ok {
		return ExtendedPublicKey{}, childPath, errors.Wrapf(ErrUnexpectedResponse, "card did not derive %s", childPath)
	}

	parent, ok := lookup(parentPath)
	if !ok {
		return ExtendedPublicKey{}, childPath, errors.Wrapf(ErrUnexpectedResponse, "card did not derive %s", parentPath)
	}

	fingerprint, err := Fingerprint(parent.PublicKey)
	if err != nil {
		return ExtendedPublicKey{}, childPath, err
	}

	lastNode, _ := childPath.LastNode()

	return ExtendedPublicKey{
		PublicKey:         child.PublicKey,
		ChainCode:         child.ChainCode,
		Depth:             uint8(childPath.Depth()),
		ParentFingerprint: fingerprint,
		ChildNumber:       lastNode.ChildNumber(),
	}, childPath, nil
}
