package cardwallet

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ProvisioningResponse is the result of provisioning a card. DerivedKeys is
// nil when the card cannot derive, PrimaryCard is nil when it cannot back up.
type ProvisioningResponse struct {
	Card        *Card
	ProductType ProductType
	DerivedKeys DerivedKeys
	PrimaryCard *PrimaryCard
}

type provisioningState int

const (
	provisioningReadCard provisioningState = iota
	provisioningResetCard
	provisioningCreateWallets
	provisioningCheckWallets
	provisioningLinkPrimary
	provisioningDeriveKeys
	provisioningDone
)

func (state provisioningState) String() string {
	return [...]string{"read_card", "reset_card", "create_wallets", "check_wallets", "link_primary", "derive_keys", "done"}[state]
}

// createProductWalletTask provisions a card: optionally wipes it, creates the
// mandatory wallets, checks the result, fetches the primary card token and
// derives the default keys.
type createProductWalletTask struct {
	seed        []byte
	shouldReset bool

	state  provisioningState
	card   *Card
	config CardConfig

	read        readCardTask
	purge       *purgeWalletsTask
	create      *createWalletsTask
	readWallets *readWalletsTask
	readPrimary *readPrimaryTask
	derive      *deriveTask

	primaryCard *PrimaryCard
	derivedKeys DerivedKeys
}

func newCreateProductWalletTask(seed []byte, shouldReset bool) *createProductWalletTask {
	return &createProductWalletTask{seed: seed, shouldReset: shouldReset}
}

func (t *createProductWalletTask) current() task {
	switch t.state {
	case provisioningReadCard:
		return &t.read
	case provisioningResetCard:
		return t.purge
	case provisioningCreateWallets:
		return t.create
	case provisioningCheckWallets:
		return t.readWallets
	case provisioningLinkPrimary:
		return t.readPrimary
	case provisioningDeriveKeys:
		return t.derive
	default:
		return nil
	}
}

func (t *createProductWalletTask) next(response any) (request, error) {

	for {
		current := t.current()
		if current == nil {
			return nil, nil
		}

		req, err := current.next(response)
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}

		if err := t.advance(); err != nil {
			return nil, err
		}

		log.Debug().Stringer("state", t.state).Msg("Provisioning")

		response = nil
	}
}

// advance moves on from the state whose command sequence just completed.
func (t *createProductWalletTask) advance() error {

	switch t.state {

	case provisioningReadCard:
		t.card = t.read.card
		t.config = CardConfigFor(t.card)

		if len(t.card.Wallets) > 0 && !t.shouldReset {
			return ErrWalletAlreadyCreated
		}

		// A refused import must not wipe the card.
		masterKeys, err := t.masterKeys()
		if err != nil {
			return err
		}

		if len(t.card.Wallets) > 0 {
			t.purge = newPurgeWalletsTask(t.card)
			t.create = newCreateWalletsTask(t.config.MandatoryCurves(), masterKeys)
			t.state = provisioningResetCard
			return nil
		}

		t.create = newCreateWalletsTask(t.config.MandatoryCurves(), masterKeys)
		t.state = provisioningCreateWallets

	case provisioningResetCard:
		t.card = t.purge.card
		t.state = provisioningCreateWallets

	case provisioningCreateWallets:
		if len(t.create.responses) != len(t.config.MandatoryCurves()) {
			return ErrWalletNotCreated
		}
		t.card = t.card.withWallets(t.create.wallets())

		if !t.card.FirmwareVersion.AtLeast(FirmwareReadWallets) {
			log.Debug().Stringer("firmware", t.card.FirmwareVersion).Msg("Skipping wallet check")
			t.proceedWithCreatedWallets()
			return nil
		}

		t.readWallets = &readWalletsTask{}
		t.state = provisioningCheckWallets

	case provisioningCheckWallets:
		if !validateWallets(t.readWallets.wallets, t.config.MandatoryCurves()) {
			return errors.Wrapf(ErrCurveSetMismatch, "card %s", t.card.CardID)
		}
		t.card = t.card.withWallets(t.readWallets.wallets)
		t.proceedWithCreatedWallets()

	case provisioningLinkPrimary:
		t.primaryCard = &t.readPrimary.primary
		if t.card.Settings.IsHDWalletAllowed {
			t.deriveKeys()
			return nil
		}
		t.state = provisioningDone

	case provisioningDeriveKeys:
		t.derivedKeys = t.derive.derived
		t.state = provisioningDone
	}

	return nil
}

func (t *createProductWalletTask) proceedWithCreatedWallets() {
	switch {
	case t.card.Settings.IsBackupAllowed:
		t.readPrimary = &readPrimaryTask{}
		t.state = provisioningLinkPrimary
	case t.card.Settings.IsHDWalletAllowed:
		t.deriveKeys()
	default:
		t.state = provisioningDone
	}
}

func (t *createProductWalletTask) deriveKeys() {
	derivations := CollectDerivations(t.config, t.card, t.config.DefaultTokenQueries())
	if len(derivations) == 0 {
		t.state = provisioningDone
		return
	}
	t.derive = newDeriveTask(derivations)
	t.state = provisioningDeriveKeys
}

// masterKeys derives the imported key of every mandatory curve from the
// seed, after checking the card accepts imported keys.
func (t *createProductWalletTask) masterKeys() (map[EllipticCurve]MasterKey, error) {

	if t.seed == nil {
		return nil, nil
	}

	if !t.card.FirmwareVersion.AtLeast(FirmwareKeysImport) {
		return nil, errors.Wrapf(ErrFirmwareTooOld, "keys import needs %s, card has %s", FirmwareKeysImport, t.card.FirmwareVersion)
	}
	if !t.card.Settings.IsKeysImportAllowed {
		return nil, ErrKeysImportNotAllowed
	}

	masterKeys := make(map[EllipticCurve]MasterKey)
	for _, curve := range t.config.MandatoryCurves() {
		key, err := NewMasterKey(curve, t.seed)
		if err != nil {
			return nil, err
		}
		masterKeys[curve] = key
	}

	return masterKeys, nil
}

func (t *createProductWalletTask) response() *ProvisioningResponse {
	return &ProvisioningResponse{
		Card:        t.card,
		ProductType: t.config.ProductType(),
		DerivedKeys: t.derivedKeys,
		PrimaryCard: t.primaryCard,
	}
}
