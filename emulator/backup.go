package emulator

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

func (card *Card) curves() []string {
	curves := make([]string, 0, len(card.wallets))
	for _, w := range card.wallets {
		curves = append(curves, w.curve)
	}
	return curves
}

func (card *Card) readPrimary() ([]byte, error) {

	switch {
	case !card.opts.BackupAllowed:
		return card.fail(CodeNotAllowed, "backup not allowed")
	case len(card.wallets) == 0:
		return card.fail(CodeInvalidState, "no wallets")
	case card.backupStatus == statusCardLinked:
		return card.fail(CodeInvalidState, "card is linked as a backup")
	}

	return card.reply(readPrimaryResponse{
		CardNonce: card.nextNonce(),
		Primary: primaryToken{
			CardID:               card.opts.CardID,
			CardPublicKey:        card.PublicKey(),
			LinkingKey:           card.linkingKey.PubKey().SerializeCompressed(),
			ExistingWalletsCount: len(card.wallets),
			IsHDWalletAllowed:    card.opts.HDWalletAllowed,
			IsBackupAllowed:      card.opts.BackupAllowed,
			IsKeysImportAllowed:  card.opts.KeysImportAllowed,
			BatchID:              card.opts.BatchID,
			Version:              card.opts.FirmwareVersion,
			WalletCurves:         card.curves(),
		},
	})
}

// linkPrimary turns a fresh card into a backup of the given primary.
func (card *Card) linkPrimary(req *request) ([]byte, error) {

	switch {
	case req.Primary == nil:
		return card.fail(CodeInvalidCommand, "missing primary")
	case !card.opts.BackupAllowed:
		return card.fail(CodeNotAllowed, "backup not allowed")
	case len(card.wallets) > 0:
		return card.fail(CodeInvalidState, "card has wallets")
	case card.backupStatus != statusNoBackup:
		return card.fail(CodeInvalidState, "backup already started")
	}

	if _, err := secp256k1.ParsePubKey(req.Primary.LinkingKey); err != nil {
		return card.fail(CodeInvalidCommand, "invalid linking key")
	}

	card.primary = req.Primary
	card.backupStatus = statusCardLinked

	return card.reply(linkPrimaryResponse{
		CardNonce: card.nextNonce(),
		Backup: backupToken{
			CardID:        card.opts.CardID,
			CardPublicKey: card.PublicKey(),
			LinkingKey:    card.linkingKey.PubKey().SerializeCompressed(),
		},
	})
}

// linkBackups encrypts the wallets of the primary card for every backup card
// and takes the group's new access code.
func (card *Card) linkBackups(req *request, sessionKey [32]byte) ([]byte, error) {

	switch {
	case !card.opts.BackupAllowed:
		return card.fail(CodeNotAllowed, "backup not allowed")
	case len(card.wallets) == 0:
		return card.fail(CodeInvalidState, "no wallets")
	case len(req.Backups) == 0:
		return card.fail(CodeInvalidCommand, "no backups")
	}

	code, ok := newAccessCode(req.XCode, sessionKey)
	if !ok {
		return card.fail(CodeInvalidCommand, "invalid xcode")
	}

	wallets := make([]backupWallet, 0, len(card.wallets))
	for _, w := range card.wallets {
		wallets = append(wallets, backupWallet{Curve: w.curve, PrivateKey: w.privateKey, ChainCode: w.chainCode})
	}
	plaintext, err := cbor.Marshal(wallets)
	if err != nil {
		return nil, err
	}

	payloads := make([]backupPayload, 0, len(req.Backups))
	for _, backup := range req.Backups {
		linkingKey, err := secp256k1.ParsePubKey(backup.LinkingKey)
		if err != nil {
			return card.fail(CodeInvalidCommand, "invalid linking key")
		}
		data, err := seal(sharedSecret(card.linkingKey, linkingKey), plaintext)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, backupPayload{CardID: backup.CardID, Data: data})
	}

	card.accessCode = code
	card.accessCodeSet = true
	card.backupStatus = statusActive

	return card.reply(linkBackupsResponse{CardNonce: card.nextNonce(), Backups: payloads})
}

// writeBackup installs the primary's wallets on a linked backup card.
func (card *Card) writeBackup(req *request, sessionKey [32]byte) ([]byte, error) {

	if card.backupStatus != statusCardLinked || card.primary == nil {
		return card.fail(CodeInvalidState, "card is not linked")
	}

	code, ok := newAccessCode(req.XCode, sessionKey)
	if !ok {
		return card.fail(CodeInvalidCommand, "invalid xcode")
	}

	primaryKey, err := secp256k1.ParsePubKey(card.primary.LinkingKey)
	if err != nil {
		return card.fail(CodeInvalidState, "invalid primary linking key")
	}

	plaintext, err := open(sharedSecret(card.linkingKey, primaryKey), req.Data)
	if err != nil {
		return card.fail(CodeInvalidCommand, "invalid backup data")
	}

	var backupWallets []backupWallet
	if err := cbor.Unmarshal(plaintext, &backupWallets); err != nil {
		return card.fail(CodeInvalidCommand, "invalid backup data")
	}

	wallets := make([]*wallet, 0, len(backupWallets))
	for _, bw := range backupWallets {
		w, err := restoreWallet(bw)
		if err != nil {
			return card.fail(CodeInvalidCommand, err.Error())
		}
		wallets = append(wallets, w)
	}

	card.wallets = wallets
	card.accessCode = code
	card.accessCodeSet = true
	card.backupStatus = statusActive

	return card.reply(writeBackupResponse{
		CardNonce:    card.nextNonce(),
		BackupStatus: card.backupStatus,
		Wallets:      card.walletResponses(),
	})
}

// restoreWallet rebuilds a wallet from its backed up key. secp256r1 keys are
// not derived from a seed and are carried over as they are.
func restoreWallet(bw backupWallet) (*wallet, error) {
	if bw.Curve == "secp256r1" {
		return nil, errors.New("secp256r1 wallets cannot be backed up")
	}
	w, err := newWallet(bw.Curve, bw.PrivateKey, bw.ChainCode, bw.ChainCode != nil)
	if err != nil {
		return nil, err
	}
	w.imported = false
	return w, nil
}

func seal(secret, plaintext []byte) ([]byte, error) {
	aead, err := backupCipher(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(secret, data []byte) ([]byte, error) {
	aead, err := backupCipher(secret)
	if err != nil {
		return nil, err
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("backup data too short")
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

func backupCipher(secret []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
