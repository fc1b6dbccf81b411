package cardwallet

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MinAccessCodeLength is the shortest access code a backup accepts.
const MinAccessCodeLength = 4

// readPrimaryTask fetches the token that links backup cards to this card.
type readPrimaryTask struct {
	primary PrimaryCard
}

func (t *readPrimaryTask) next(response any) (request, error) {

	if response == nil {
		return &readPrimaryCommand{command{Cmd: cmdReadPrimary}}, nil
	}

	data, err := expect[primaryCardData](response)
	if err != nil {
		return nil, err
	}

	t.primary = data.Primary

	return nil, nil
}

// linkBackupCardTask links a fresh card to primary.
type linkBackupCardTask struct {
	primary PrimaryCard
	read    readCardTask
	linked  bool
	backup  BackupCard
}

func newLinkBackupCardTask(primary PrimaryCard) *linkBackupCardTask {
	t := &linkBackupCardTask{primary: primary}
	t.read.filter = PreflightReadFunc(t.checkBackupCard)
	return t
}

func (t *linkBackupCardTask) checkBackupCard(card *Card) error {
	switch {
	case card.CardID == t.primary.CardID:
		return errors.Wrap(ErrCardMismatch, "the primary card cannot be its own backup")
	case !card.Settings.IsBackupAllowed:
		return ErrBackupNotAllowed
	case len(card.Wallets) > 0:
		return ErrWalletAlreadyCreated
	case card.BackupStatus != BackupStatusNoBackup && card.BackupStatus != BackupStatusUnknown:
		return errors.Wrapf(ErrBackupStatusMismatch, "card %s is %s", card.CardID, card.BackupStatus)
	}
	return nil
}

func (t *linkBackupCardTask) next(response any) (request, error) {

	if t.read.card == nil {
		req, err := t.read.next(response)
		if err != nil || req != nil {
			return req, err
		}
		return &linkPrimaryCommand{command: command{Cmd: cmdLinkPrimary}, Primary: t.primary}, nil
	}

	if t.linked {
		return nil, nil
	}

	data, err := expect[backupCardData](response)
	if err != nil {
		return nil, err
	}

	t.backup = data.Backup
	t.linked = true

	return nil, nil
}

// finalizePrimaryTask hands the backup cards to the primary card, which
// answers with one encrypted payload per backup and takes the new access
// code.
type finalizePrimaryTask struct {
	primaryCardID string
	backups       []BackupCard
	accessCode    string
	read          readCardTask
	payloads      map[string][]byte
}

func newFinalizePrimaryTask(primaryCardID string, backups []BackupCard, accessCode string) *finalizePrimaryTask {
	t := &finalizePrimaryTask{primaryCardID: primaryCardID, backups: backups, accessCode: accessCode}
	t.read.filter = PreflightReadFunc(func(card *Card) error {
		if card.CardID != t.primaryCardID {
			return errors.Wrapf(ErrCardMismatch, "expected primary card %s, got %s", t.primaryCardID, card.CardID)
		}
		return BackupValidator{Config: CardConfigFor(card)}.Validate(card)
	})
	return t
}

func (t *finalizePrimaryTask) next(response any) (request, error) {

	if t.read.card == nil {
		req, err := t.read.next(response)
		if err != nil || req != nil {
			return req, err
		}
		return &linkBackupsCommand{
			command:       command{Cmd: cmdLinkBackups},
			newAccessCode: newAccessCodeHash(t.accessCode),
			Backups:       t.backups,
		}, nil
	}

	if t.payloads != nil {
		return nil, nil
	}

	data, err := expect[linkBackupsData](response)
	if err != nil {
		return nil, err
	}

	payloads := make(map[string][]byte, len(data.Backups))
	for _, payload := range data.Backups {
		payloads[payload.CardID] = payload.Data
	}
	for _, backup := range t.backups {
		if _, ok := payloads[backup.CardID]; !ok {
			return nil, errors.Wrapf(ErrUnexpectedResponse, "no backup data for card %s", backup.CardID)
		}
	}

	t.payloads = payloads

	return nil, nil
}

// finalizeBackupTask writes the primary's encrypted wallets to a linked
// backup card and checks it ended up with the primary's curves.
type finalizeBackupTask struct {
	backupCardID string
	data         []byte
	accessCode   string
	curves       []EllipticCurve
	read         readCardTask
	written      bool
	card         *Card
}

func newFinalizeBackupTask(backupCardID string, data []byte, accessCode string, curves []EllipticCurve) *finalizeBackupTask {
	t := &finalizeBackupTask{backupCardID: backupCardID, data: data, accessCode: accessCode, curves: curves}
	t.read.filter = PreflightReadFunc(func(card *Card) error {
		if card.CardID != t.backupCardID {
			return errors.Wrapf(ErrCardMismatch, "expected backup card %s, got %s", t.backupCardID, card.CardID)
		}
		if card.BackupStatus != BackupStatusCardLinked {
			return errors.Wrapf(ErrBackupNotStarted, "card %s is %s", card.CardID, card.BackupStatus)
		}
		return nil
	})
	return t
}

func (t *finalizeBackupTask) next(response any) (request, error) {

	if t.read.card == nil {
		req, err := t.read.next(response)
		if err != nil || req != nil {
			return req, err
		}
		return &writeBackupCommand{
			command:       command{Cmd: cmdWriteBackup},
			newAccessCode: newAccessCodeHash(t.accessCode),
			Data:          t.data,
		}, nil
	}

	if t.written {
		return nil, nil
	}

	data, err := expect[writeBackupData](response)
	if err != nil {
		return nil, err
	}

	wallets, err := newWallets(data.Wallets)
	if err != nil {
		return nil, err
	}

	status := parseBackupStatus(data.BackupStatus)
	if status != BackupStatusActive {
		return nil, errors.Wrapf(ErrBackupStatusMismatch, "card %s is %s after writing the backup", t.backupCardID, status)
	}
	if !validateWallets(wallets, t.curves) {
		return nil, errors.Wrapf(ErrCurveSetMismatch, "backup card %s", t.backupCardID)
	}

	card := t.read.card.withWallets(wallets)
	card.BackupStatus = status
	t.card = card
	t.written = true

	return nil, nil
}

// BackupService links backup cards to a primary card. A backup takes several
// taps: one per backup card to link it, then ProceedBackup once for the
// primary and once per backup card.
type BackupService struct {
	manager *Manager

	mu               sync.Mutex
	primary          *PrimaryCard
	backups          []BackupCard
	accessCode       string
	payloads         map[string][]byte
	primaryFinalized bool
	written          map[string]bool
}

// AddBackup links the card in the field to primary. An unfinished backup of
// another primary, or one missing either side, is discarded first.
func (service *BackupService) AddBackup(ctx context.Context, primary PrimaryCard) (BackupCard, error) {

	service.mu.Lock()
	defer service.mu.Unlock()

	if service.isStale(primary) {
		log.Debug().Msg("Discarding stale backup")
		service.discard()
	}
	if service.primaryFinalized {
		return BackupCard{}, wrapError("add backup", errors.Wrap(ErrBackupStatusMismatch, "backup already written to the primary card"))
	}

	service.primary = &primary

	t := newLinkBackupCardTask(primary)
	if err := service.manager.runTask(ctx, t, true); err != nil {
		return BackupCard{}, wrapError("add backup", err)
	}

	for _, backup := range service.backups {
		if backup.CardID == t.backup.CardID {
			return t.backup, nil
		}
	}
	service.backups = append(service.backups, t.backup)

	log.Debug().Str("primary", primary.CardID).Str("backup", t.backup.CardID).Msg("Backup card linked")

	return t.backup, nil
}

func (service *BackupService) isStale(primary PrimaryCard) bool {
	bound := service.primary != nil
	if bound != (len(service.backups) > 0) {
		return true
	}
	return bound && service.primary.CardID != primary.CardID
}

// SetAccessCode sets the access code all cards of the group will share.
func (service *BackupService) SetAccessCode(code string) error {

	if len(code) < MinAccessCodeLength {
		return wrapError("set access code", errors.Wrapf(ErrInvalidAccessCode, "at least %d characters", MinAccessCodeLength))
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	service.accessCode = code

	return nil
}

// ProceedBackup performs the next backup step on the card in the field and
// returns the id of that card.
func (service *BackupService) ProceedBackup(ctx context.Context) (string, error) {

	service.mu.Lock()
	defer service.mu.Unlock()

	if service.primary == nil || len(service.backups) == 0 {
		return "", wrapError("proceed backup", ErrBackupNotStarted)
	}
	if service.accessCode == "" {
		return "", wrapError("proceed backup", ErrAccessCodeRequired)
	}

	if !service.primaryFinalized {
		t := newFinalizePrimaryTask(service.primary.CardID, service.backups, service.accessCode)
		if err := service.manager.runTask(ctx, t, true); err != nil {
			return "", wrapError("proceed backup", err)
		}

		service.payloads = t.payloads
		service.primaryFinalized = true
		service.written = map[string]bool{}

		if err := service.manager.saveAccessCode([]string{service.primary.CardID}, service.accessCode); err != nil {
			return "", wrapError("proceed backup", err)
		}

		return service.primary.CardID, nil
	}

	for _, backup := range service.backups {
		if service.written[backup.CardID] {
			continue
		}

		curves, err := primaryCurves(service.primary)
		if err != nil {
			return "", wrapError("proceed backup", err)
		}

		t := newFinalizeBackupTask(backup.CardID, service.payloads[backup.CardID], service.accessCode, curves)
		if err := service.manager.runTask(ctx, t, true); err != nil {
			return "", wrapError("proceed backup", err)
		}

		service.written[backup.CardID] = true

		if err := service.manager.saveAccessCode([]string{backup.CardID}, service.accessCode); err != nil {
			return "", wrapError("proceed backup", err)
		}

		return backup.CardID, nil
	}

	return "", nil
}

// IsBackupFinished reports whether every linked backup card holds the
// primary's wallets.
func (service *BackupService) IsBackupFinished() bool {

	service.mu.Lock()
	defer service.mu.Unlock()

	if !service.primaryFinalized || len(service.backups) == 0 {
		return false
	}
	for _, backup := range service.backups {
		if !service.written[backup.CardID] {
			return false
		}
	}
	return true
}

// Discard drops any backup in progress.
func (service *BackupService) Discard() {
	service.mu.Lock()
	defer service.mu.Unlock()
	service.discard()
}

func (service *BackupService) discard() {
	service.primary = nil
	service.backups = nil
	service.payloads = nil
	service.primaryFinalized = false
	service.written = nil
}

func primaryCurves(primary *PrimaryCard) ([]EllipticCurve, error) {
	curves := make([]EllipticCurve, 0, len(primary.WalletCurves))
	for _, name := range primary.WalletCurves {
		curve, err := ParseEllipticCurve(name)
		if err != nil {
			return nil, err
		}
		curves = append(curves, curve)
	}
	return curves, nil
}
