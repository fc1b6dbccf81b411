package cardwallet

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ResetResult reports the outcome of a factory reset. DidReset is true when at
// least one wallet was purged or the backup state was reset.
type ResetResult struct {
	LastWalletPublicKey []byte
	DidReset            bool
	Card                *Card
}

// purgeWalletsTask purges the wallets of a card one at a time and then resets
// its backup state when it has one.
type purgeWalletsTask struct {
	card        *Card
	wallets     queue[CardWallet]
	pending     CardWallet
	backupSent  bool
	lastPurged  []byte
	purged      bool
	backupReset bool
}

func newPurgeWalletsTask(card *Card) *purgeWalletsTask {
	return &purgeWalletsTask{card: card, wallets: newQueue(card.Wallets...)}
}

func (t *purgeWalletsTask) next(response any) (request, error) {

	switch data := response.(type) {
	case nil:
	case purgeWalletData:
		log.Debug().Str("card_id", t.card.CardID).Hex("pubkey", t.pending.PublicKey).Msg("Parse purge_wallet")
		t.lastPurged = t.pending.PublicKey
		t.purged = true
		t.card = t.card.withWallets(withoutWallet(t.card.Wallets, t.pending.PublicKey))
	case resetBackupData:
		log.Debug().Str("card_id", t.card.CardID).Str("backup_status", data.BackupStatus).Msg("Parse reset_backup")
		t.backupReset = true
		updated := *t.card
		updated.BackupStatus = parseBackupStatus(data.BackupStatus)
		t.card = &updated
	default:
		return nil, errors.Wrapf(ErrUnexpectedResponse, "%T", response)
	}

	if wallet, ok := t.wallets.dequeue(); ok {
		t.pending = wallet
		return &purgeWalletCommand{command: command{Cmd: cmdPurgeWallet}, PublicKey: wallet.PublicKey}, nil
	}

	if !t.backupSent && t.card.BackupStatus != BackupStatusUnknown && t.card.BackupStatus != BackupStatusNoBackup {
		t.backupSent = true
		return &resetBackupCommand{command: command{Cmd: cmdResetBackup}}, nil
	}

	return nil, nil
}

func (t *purgeWalletsTask) result() ResetResult {
	return ResetResult{LastWalletPublicKey: t.lastPurged, DidReset: t.purged || t.backupReset, Card: t.card}
}

func withoutWallet(wallets []CardWallet, publicKey []byte) []CardWallet {
	remaining := make([]CardWallet, 0, len(wallets))
	for _, wallet := range wallets {
		if !bytes.Equal(wallet.PublicKey, publicKey) {
			remaining = append(remaining, wallet)
		}
	}
	return remaining
}

// resetTask reads the card, lets the filter veto, then wipes it.
type resetTask struct {
	read  readCardTask
	purge *purgeWalletsTask
}

func newResetToFactorySettingsTask() *resetTask {
	return &resetTask{}
}

// newResetBackupCardTask resets a backup card, refusing to touch the card
// that holds primaryPublicKey: that card is the primary, not its backup.
func newResetBackupCardTask(primaryPublicKey []byte) *resetTask {
	return &resetTask{read: readCardTask{filter: PreflightReadFunc(func(card *Card) error {
		if _, ok := card.Wallet(primaryPublicKey); ok {
			return errors.Wrapf(ErrWalletNotFound, "card %s holds the primary wallet", card.CardID)
		}
		return nil
	})}}
}

func (t *resetTask) next(response any) (request, error) {

	if t.purge != nil {
		return t.purge.next(response)
	}

	req, err := t.read.next(response)
	if err != nil || req != nil {
		return req, err
	}

	t.purge = newPurgeWalletsTask(t.read.card)

	return t.purge.next(nil)
}

func (t *resetTask) result() ResetResult {
	if t.purge == nil {
		return ResetResult{}
	}
	return t.purge.result()
}
