package cardwallet

import (
	"github.com/pkg/errors"
)

// validateWallets reports whether wallets hold exactly the expected curves:
// one wallet per curve and no others. The order of wallets does not matter.
func validateWallets(wallets []CardWallet, expected []EllipticCurve) bool {

	if len(wallets) != len(expected) {
		return false
	}

	present := make(map[EllipticCurve]bool, len(wallets))
	for _, wallet := range wallets {
		present[wallet.Curve] = true
	}

	for _, curve := range expected {
		if !present[curve] {
			return false
		}
	}

	return len(present) == len(expected)
}

// BackupValidator checks that a card can take part in a backup.
type BackupValidator struct {
	Config CardConfig
}

// IsValidFull reports whether card passes both the backup status and the
// curve checks.
func (validator BackupValidator) IsValidFull(card *Card) bool {
	return validator.Validate(card) == nil
}

// Validate is IsValidFull returning the reason a card is invalid.
func (validator BackupValidator) Validate(card *Card) error {
	if !validator.validateBackupStatus(card) {
		return errors.Wrapf(ErrBackupStatusMismatch, "card %s is %s", card.CardID, card.BackupStatus)
	}
	return validator.validateCurves(card)
}

// validateBackupStatus rejects cards already linked into a backup group.
func (validator BackupValidator) validateBackupStatus(card *Card) bool {
	return card.BackupStatus != BackupStatusCardLinked
}

// validateCurves requires exactly one wallet per mandatory curve. Curves
// exempt from validation may be absent but never duplicated.
func (validator BackupValidator) validateCurves(card *Card) error {

	counts := make(map[EllipticCurve]int, len(card.Wallets))
	for _, wallet := range card.Wallets {
		counts[wallet.Curve]++
	}

	exempt := validator.Config.ExemptFromValidation()

	for _, curve := range validator.Config.MandatoryCurves() {
		count := counts[curve]
		switch {
		case count > 1:
			return errors.Wrapf(ErrCurveDuplicated, "%s", curve)
		case count == 0 && !containsCurve(exempt, curve):
			return errors.Wrapf(ErrCurveMissing, "%s", curve)
		}
	}

	return nil
}
