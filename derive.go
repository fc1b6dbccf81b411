package cardwallet

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ExtendedPublicKey is the BIP32 public record of one node.
type ExtendedPublicKey struct {
	PublicKey         []byte
	ChainCode         []byte
	Depth             uint8
	ParentFingerprint [4]byte
	ChildNumber       uint32
}

// ExtendedPublicKeys holds the keys derived from one seed key, by path.
type ExtendedPublicKeys map[string]ExtendedPublicKey

func (keys ExtendedPublicKeys) Get(path DerivationPath) (ExtendedPublicKey, bool) {
	key, ok := keys[path.String()]
	return key, ok
}

func (keys ExtendedPublicKeys) Put(path DerivationPath, key ExtendedPublicKey) {
	keys[path.String()] = key
}

// DerivedKeys holds derived keys by the seed key of the wallet they belong to.
// Only paths the card returned are present.
type DerivedKeys map[ByteArrayKey]ExtendedPublicKeys

// Get looks up the key at path under seedKey.
func (derived DerivedKeys) Get(seedKey []byte, path DerivationPath) (ExtendedPublicKey, bool) {
	keys, ok := derived[NewByteArrayKey(seedKey)]
	if !ok {
		return ExtendedPublicKey{}, false
	}
	return keys.Get(path)
}

// Merge adds keys under seedKey.
func (derived DerivedKeys) Merge(seedKey []byte, keys ExtendedPublicKeys) {
	seed := NewByteArrayKey(seedKey)
	if derived[seed] == nil {
		derived[seed] = ExtendedPublicKeys{}
	}
	for path, key := range keys {
		derived[seed][path] = key
	}
}

// deriveTask sends one derive command per seed key, carrying every path
// requested for that wallet.
type deriveTask struct {
	seeds   queue[ByteArrayKey]
	paths   map[ByteArrayKey][]DerivationPath
	pending ByteArrayKey
	derived DerivedKeys
}

func newDeriveTask(paths map[ByteArrayKey][]DerivationPath) *deriveTask {

	seeds := make([]ByteArrayKey, 0, len(paths))
	for seed, seedPaths := range paths {
		if len(seedPaths) > 0 {
			seeds = append(seeds, seed)
		}
	}
	sort.Slice(seeds, func(i, j int) bool {
		return bytes.Compare(seeds[i].Bytes(), seeds[j].Bytes()) < 0
	})

	return &deriveTask{seeds: newQueue(seeds...), paths: paths, derived: DerivedKeys{}}
}

func (t *deriveTask) next(response any) (request, error) {

	if response != nil {
		data, err := expect[deriveData](response)
		if err != nil {
			return nil, err
		}

		keys, err := t.parse(data)
		if err != nil {
			return nil, err
		}
		t.derived.Merge(t.pending.Bytes(), keys)
	}

	seed, ok := t.seeds.dequeue()
	if !ok {
		return nil, nil
	}
	t.pending = seed

	paths := make([]string, 0, len(t.paths[seed]))
	for _, path := range t.paths[seed] {
		paths = append(paths, path.String())
	}

	log.Debug().Stringer("seed", seed).Strs("paths", paths).Msg("Request derive")

	return &deriveCommand{command: command{Cmd: cmdDerive}, PublicKey: seed.Bytes(), Paths: paths}, nil
}

func (t *deriveTask) parse(data deriveData) (ExtendedPublicKeys, error) {

	requested := make(map[string]bool, len(t.paths[t.pending]))
	for _, path := range t.paths[t.pending] {
		requested[path.String()] = true
	}

	keys := ExtendedPublicKeys{}
	for _, key := range data.Keys {
		path, err := ParseDerivationPath(key.Path)
		if err != nil {
			return nil, err
		}
		if !requested[path.String()] {
			return nil, errors.Wrapf(ErrUnexpectedResponse, "path %s was not requested", path)
		}

		var childNumber uint32
		if node, ok := path.LastNode(); ok {
			childNumber = node.ChildNumber()
		}

		keys.Put(path, ExtendedPublicKey{
			PublicKey:   key.PublicKey,
			ChainCode:   key.ChainCode,
			Depth:       uint8(path.Depth()),
			ChildNumber: childNumber,
		})
	}

	return keys, nil
}

// deriveWalletTask reads the card and derives paths from one of its wallets.
type deriveWalletTask struct {
	seedKey []byte
	paths   []DerivationPath
	read    readCardTask
	derive  *deriveTask
}

func newDeriveWalletTask(seedKey []byte, paths []DerivationPath) *deriveWalletTask {
	t := &deriveWalletTask{seedKey: seedKey, paths: paths}
	t.read.filter = PreflightReadFunc(func(card *Card) error {
		wallet, ok := card.Wallet(seedKey)
		if !ok {
			return errors.Wrapf(ErrWalletNotFound, "card %s", card.CardID)
		}
		if !wallet.CanDerive() || !card.Settings.IsHDWalletAllowed {
			return ErrHDWalletNotAllowed
		}
		return nil
	})
	return t
}

func (t *deriveWalletTask) next(response any) (request, error) {

	if t.derive != nil {
		return t.derive.next(response)
	}

	req, err := t.read.next(response)
	if err != nil || req != nil {
		return req, err
	}

	t.derive = newDeriveTask(map[ByteArrayKey][]DerivationPath{NewByteArrayKey(t.seedKey): t.paths})

	return t.derive.next(nil)
}
