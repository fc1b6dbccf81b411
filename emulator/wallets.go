package emulator

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"math/big"
	"strconv"
	"strings"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

const hardenedOffset uint32 = 0x80000000

type wallet struct {
	curve      string
	privateKey []byte
	publicKey  []byte
	chainCode  []byte
	imported   bool
}

func (w *wallet) response() walletResponse {
	return walletResponse{PublicKey: w.publicKey, Curve: w.curve, ChainCode: w.chainCode, IsImported: w.imported}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// newWallet creates a wallet on curve, from privateKey when one is imported.
func newWallet(curve string, privateKey, chainCode []byte, hd bool) (*wallet, error) {

	imported := privateKey != nil

	switch curve {
	case "secp256k1", "bip0340":
		if privateKey == nil {
			seed, err := bip32.NewSeed()
			if err != nil {
				return nil, err
			}
			master, err := bip32.NewMasterKey(seed)
			if err != nil {
				return nil, err
			}
			privateKey, chainCode = master.Key, master.ChainCode
		}
		if len(privateKey) != 32 {
			return nil, errors.New("invalid private key")
		}
		key := secp256k1.PrivKeyFromBytes(privateKey)
		return &wallet{
			curve:      curve,
			privateKey: privateKey,
			publicKey:  key.PubKey().SerializeCompressed(),
			chainCode:  hdChainCode(hd, chainCode),
			imported:   imported,
		}, nil

	case "ed25519", "ed25519_slip0010":
		if privateKey == nil {
			var err error
			if privateKey, err = randomBytes(ed25519.SeedSize); err != nil {
				return nil, err
			}
			if chainCode, err = randomBytes(32); err != nil {
				return nil, err
			}
		}
		if len(privateKey) != ed25519.SeedSize {
			return nil, errors.New("invalid private key")
		}
		return &wallet{
			curve:      curve,
			privateKey: privateKey,
			publicKey:  ed25519.NewKeyFromSeed(privateKey).Public().(ed25519.PublicKey),
			chainCode:  hdChainCode(hd, chainCode),
			imported:   imported,
		}, nil

	case "bls12381_g2_aug":
		var sk big.Int
		if privateKey == nil {
			var scalar fr.Element
			if _, err := scalar.SetRandom(); err != nil {
				return nil, err
			}
			scalar.BigInt(&sk)
			privateKey = sk.FillBytes(make([]byte, 32))
		} else {
			sk.SetBytes(privateKey)
		}
		if sk.Sign() == 0 || sk.Cmp(fr.Modulus()) >= 0 {
			return nil, errors.New("invalid private key")
		}
		_, _, g1, _ := bls12381.Generators()
		var publicKey bls12381.G1Affine
		publicKey.ScalarMultiplication(&g1, &sk)
		compressed := publicKey.Bytes()
		return &wallet{curve: curve, privateKey: privateKey, publicKey: compressed[:], imported: imported}, nil

	case "secp256r1":
		if privateKey != nil {
			return nil, errors.New("secp256r1 keys cannot be imported")
		}
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		return &wallet{
			curve:      curve,
			privateKey: key.D.FillBytes(make([]byte, 32)),
			publicKey:  elliptic.MarshalCompressed(elliptic.P256(), key.X, key.Y),
		}, nil

	default:
		return nil, errors.Errorf("unsupported curve %q", curve)
	}
}

func hdChainCode(hd bool, chainCode []byte) []byte {
	if !hd {
		return nil
	}
	return chainCode
}

type pathNode struct {
	index    uint32
	hardened bool
}

func parsePath(path string) ([]pathNode, error) {
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, errors.Errorf("invalid path %q", path)
	}
	nodes := make([]pathNode, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		index, err := strconv.ParseUint(strings.TrimSuffix(part, "'"), 10, 32)
		if err != nil || uint32(index) >= hardenedOffset {
			return nil, errors.Errorf("invalid path %q", path)
		}
		nodes = append(nodes, pathNode{index: uint32(index), hardened: hardened})
	}
	return nodes, nil
}

// derive returns the public key and chain code of w at path.
func (w *wallet) derive(path string) (derivedKeyResponse, error) {

	if w.chainCode == nil {
		return derivedKeyResponse{}, errors.New("wallet cannot derive")
	}

	nodes, err := parsePath(path)
	if err != nil {
		return derivedKeyResponse{}, err
	}

	switch w.curve {
	case "secp256k1", "bip0340":
		key := &bip32.Key{
			Version:     bip32.PrivateWalletVersion,
			ChildNumber: []byte{0, 0, 0, 0},
			FingerPrint: []byte{0, 0, 0, 0},
			ChainCode:   w.chainCode,
			Key:         w.privateKey,
			IsPrivate:   true,
		}
		for _, node := range nodes {
			index := node.index
			if node.hardened {
				index += hardenedOffset
			}
			if key, err = key.NewChildKey(index); err != nil {
				return derivedKeyResponse{}, err
			}
		}
		return derivedKeyResponse{Path: path, PublicKey: key.PublicKey().Key, ChainCode: key.ChainCode}, nil

	case "ed25519", "ed25519_slip0010":
		privateKey, chainCode := w.privateKey, w.chainCode
		for _, node := range nodes {
			if !node.hardened {
				return derivedKeyResponse{}, errors.Errorf("%s supports hardened derivation only", w.curve)
			}
			privateKey, chainCode = slip10Child(privateKey, chainCode, node.index+hardenedOffset)
		}
		publicKey := ed25519.NewKeyFromSeed(privateKey).Public().(ed25519.PublicKey)
		return derivedKeyResponse{Path: path, PublicKey: publicKey, ChainCode: chainCode}, nil

	default:
		return derivedKeyResponse{}, errors.Errorf("%s does not support derivation", w.curve)
	}
}

func slip10Child(privateKey, chainCode []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 0, 37)
	data = append(data, 0x00)
	data = append(data, privateKey...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	return sum[:32], sum[32:]
}
