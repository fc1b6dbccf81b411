package cardwallet

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager runs card flows against the cards presented to a Reader. Only one
// session is open at a time; concurrent calls wait for the card.
type Manager struct {
	reader     Reader
	accessCode string
	repository AccessCodeRepository
	factoryKey []byte

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithAccessCode sets the access code used for cards protected by one.
func WithAccessCode(code string) Option {
	return func(m *Manager) {
		m.accessCode = code
	}
}

// WithAccessCodeRepository looks up and stores card access codes in
// repository.
func WithAccessCodeRepository(repository AccessCodeRepository) Option {
	return func(m *Manager) {
		m.repository = repository
	}
}

// WithFactoryRootKey sets the key AttestCard expects at the end of a card's
// certificate chain.
func WithFactoryRootKey(publicKey []byte) Option {
	return func(m *Manager) {
		m.factoryKey = publicKey
	}
}

func NewManager(reader Reader, opts ...Option) *Manager {
	m := &Manager{reader: reader}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// runTask opens a session on the next card and runs t to completion.
func (m *Manager) runTask(ctx context.Context, t task, allowAccessCodeFromRepository bool) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	transport, err := m.reader.Connect(ctx)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Debug().Err(err).Msg("Close transport")
		}
	}()

	session := newSession(transport, m.accessCodeResolver(allowAccessCodeFromRepository))

	if err := session.open(ctx); err != nil {
		return err
	}

	return session.run(ctx, t)
}

func (m *Manager) accessCodeResolver(allowRepository bool) accessCodeResolver {
	return func(card *Card) (string, error) {
		if m.accessCode != "" {
			return m.accessCode, nil
		}
		if allowRepository && m.repository != nil {
			code, ok, err := m.repository.Get(card.CardID)
			if err != nil {
				return "", err
			}
			if ok {
				return code, nil
			}
		}
		return "", ErrAccessCodeRequired
	}
}

func (m *Manager) saveAccessCode(cardIDs []string, code string) error {
	if m.repository == nil {
		return nil
	}
	return m.repository.Save(cardIDs, code)
}

// ScanProduct reads the card and derives the keys for queries. With nil
// queries the card's default blockchains are derived.
func (m *Manager) ScanProduct(ctx context.Context, queries []TokenQuery) (*ScanResponse, error) {

	t := newScanTask(queries, nil)
	if err := m.runTask(ctx, t, true); err != nil {
		return nil, wrapError("scan product", err)
	}

	log.Debug().Str("card_id", t.scan.Card.CardID).Str("product", string(t.scan.ProductType)).Msg("Scanned")

	return &t.scan, nil
}

// CreateProductWallet provisions the card with the wallets its generation
// requires. With a mnemonic the wallets are imported from its seed instead of
// generated on the card. A card that already holds wallets is wiped first
// when shouldReset is set and rejected otherwise.
func (m *Manager) CreateProductWallet(ctx context.Context, mnemonic, passphrase string, shouldReset bool) (*ProvisioningResponse, error) {

	var seed []byte
	if mnemonic != "" {
		var err error
		seed, err = SeedFromMnemonic(mnemonic, passphrase)
		if err != nil {
			return nil, wrapError("create product wallet", err)
		}
	}

	t := newCreateProductWalletTask(seed, shouldReset)
	if err := m.runTask(ctx, t, true); err != nil {
		return nil, wrapError("create product wallet", err)
	}

	return t.response(), nil
}

// ResetToFactorySettings purges every wallet on the card and resets its
// backup state.
func (m *Manager) ResetToFactorySettings(ctx context.Context, allowAccessCodeFromRepository bool) (ResetResult, error) {

	t := newResetToFactorySettingsTask()
	if err := m.runTask(ctx, t, allowAccessCodeFromRepository); err != nil {
		return t.result(), wrapError("reset to factory settings", err)
	}

	return m.forgetAccessCode(t.result())
}

// ResetBackupCard resets a backup card of the wallet whose seed key is
// primaryPublicKey. Presenting the primary card itself fails with
// ErrWalletNotFound before anything is purged.
func (m *Manager) ResetBackupCard(ctx context.Context, primaryPublicKey []byte) (ResetResult, error) {

	t := newResetBackupCardTask(primaryPublicKey)
	if err := m.runTask(ctx, t, true); err != nil {
		return t.result(), wrapError("reset backup card", err)
	}

	return m.forgetAccessCode(t.result())
}

func (m *Manager) forgetAccessCode(result ResetResult) (ResetResult, error) {
	if m.repository == nil || result.Card == nil || !result.DidReset {
		return result, nil
	}
	if err := m.repository.Delete(result.Card.CardID); err != nil {
		return result, wrapError("forget access code", err)
	}
	return result, nil
}

// DerivePublicKeys derives paths from the wallet seedKey on the next card
// presented, in one derive command.
func (m *Manager) DerivePublicKeys(ctx context.Context, seedKey []byte, paths []DerivationPath) (ExtendedPublicKeys, error) {

	t := newDeriveWalletTask(seedKey, paths)
	if err := m.runTask(ctx, t, true); err != nil {
		return nil, wrapError("derive public keys", err)
	}

	return t.derive.derived[NewByteArrayKey(seedKey)], nil
}

// BuildHardwarePublicKeys builds the records for queries from scan, tapping
// the card again only for keys the scan did not derive. Those keys are added
// to scan.DerivedKeys.
func (m *Manager) BuildHardwarePublicKeys(ctx context.Context, scan *ScanResponse, accountID string, queries []TokenQuery) ([]HardwarePublicKey, error) {

	keys, err := BuildHardwarePublicKeys(ctx, scan, m, accountID, queries)
	if err != nil {
		return nil, wrapError("build hardware public keys", err)
	}

	return keys, nil
}

// AttestCard reads the next card and checks that it was issued by the
// factory: the card must sign a fresh challenge with its key, and its
// certificate chain must lead to the factory root key.
func (m *Manager) AttestCard(ctx context.Context) (*Card, error) {

	if m.factoryKey == nil {
		return nil, wrapError("attest card", errors.New("no factory root key configured"))
	}

	t, err := newAttestCardTask(m.factoryKey)
	if err != nil {
		return nil, wrapError("attest card", err)
	}

	if err := m.runTask(ctx, t, false); err != nil {
		return nil, wrapError("attest card", err)
	}

	return t.read.card, nil
}

// NewBackupService starts a backup flow on this manager's reader.
func (m *Manager) NewBackupService() *BackupService {
	return &BackupService{manager: m}
}
