package cardwallet

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// BackupStatus is the backup state reported by the card. The zero value means
// the card did not report one.
type BackupStatus int

const (
	BackupStatusUnknown BackupStatus = iota
	BackupStatusNoBackup
	BackupStatusCardLinked
	BackupStatusActive
)

var backupStatusNames = map[BackupStatus]string{
	BackupStatusNoBackup:   "no_backup",
	BackupStatusCardLinked: "card_linked",
	BackupStatusActive:     "active",
}

func (status BackupStatus) String() string {
	if name, ok := backupStatusNames[status]; ok {
		return name
	}
	return ""
}

func parseBackupStatus(name string) BackupStatus {
	for status, statusName := range backupStatusNames {
		if statusName == name {
			return status
		}
	}
	return BackupStatusUnknown
}

// FirmwareVersion is the major.minor firmware version of a card.
type FirmwareVersion struct {
	Major int
	Minor int
}

// ParseFirmwareVersion parses "major.minor", ignoring any suffix after a
// third dot or a letter (e.g. "6.33r").
func ParseFirmwareVersion(version string) (FirmwareVersion, error) {
	trimmed := strings.TrimRightFunc(version, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})

	parts := strings.Split(trimmed, ".")
	if len(parts) < 2 {
		return FirmwareVersion{}, errors.Errorf("invalid firmware version %q", version)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return FirmwareVersion{}, errors.Wrapf(err, "invalid firmware version %q", version)
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return FirmwareVersion{}, errors.Wrapf(err, "invalid firmware version %q", version)
	}

	return FirmwareVersion{Major: major, Minor: minor}, nil
}

func (version FirmwareVersion) Compare(other FirmwareVersion) int {
	switch {
	case version.Major != other.Major:
		return version.Major - other.Major
	default:
		return version.Minor - other.Minor
	}
}

func (version FirmwareVersion) AtLeast(other FirmwareVersion) bool {
	return version.Compare(other) >= 0
}

func (version FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// Settings are the capability flags the card was issued with.
type Settings struct {
	IsHDWalletAllowed   bool
	IsBackupAllowed     bool
	IsKeysImportAllowed bool
}

// CardWallet is one keypair held on the card. A wallet without a chain code
// cannot perform HD derivation.
type CardWallet struct {
	PublicKey  []byte
	Curve      EllipticCurve
	ChainCode  []byte
	IsImported bool
}

func (wallet CardWallet) CanDerive() bool {
	return len(wallet.ChainCode) > 0
}

// Card is a snapshot of the card state taken during one session. Commands that
// mutate the card replace the snapshot instead of editing it.
type Card struct {
	CardID          string
	CardPublicKey   []byte
	BatchID         string
	FirmwareVersion FirmwareVersion
	Settings        Settings
	BackupStatus    BackupStatus
	IsAccessCodeSet bool
	Wallets         []CardWallet
}

// Identity converts the card public key into a hash formatted for humans.
func (card *Card) Identity() (string, error) {
	// - sha256(compressed-pubkey)
	// - skip first 8 bytes of that (because that's revealed in NFC URL)
	// - base32 and take first 20 chars in 4 groups of five
	// - insert dashes

	if len(card.CardPublicKey) != 33 {
		return "", errors.New("expecting compressed public key")
	}

	checksum := sha256.Sum256(card.CardPublicKey)

	s := base32.StdEncoding.EncodeToString(checksum[8:])[:20]

	groups := make([]string, 0, 4)
	for i := 0; i < len(s); i += 5 {
		groups = append(groups, s[i:i+5])
	}

	return strings.Join(groups, "-"), nil
}

// Wallet returns the wallet holding publicKey.
func (card *Card) Wallet(publicKey []byte) (CardWallet, bool) {
	for _, wallet := range card.Wallets {
		if bytes.Equal(wallet.PublicKey, publicKey) {
			return wallet, true
		}
	}
	return CardWallet{}, false
}

// WalletForCurve returns the first wallet created on curve.
func (card *Card) WalletForCurve(curve EllipticCurve) (CardWallet, bool) {
	for _, wallet := range card.Wallets {
		if wallet.Curve == curve {
			return wallet, true
		}
	}
	return CardWallet{}, false
}

// withWallets returns a new snapshot with the wallet list replaced.
func (card *Card) withWallets(wallets []CardWallet) *Card {
	updated := *card
	updated.Wallets = wallets
	return &updated
}

// ByteArrayKey wraps raw key bytes so they can key a map by value.
type ByteArrayKey string

func NewByteArrayKey(b []byte) ByteArrayKey {
	return ByteArrayKey(b)
}

func (key ByteArrayKey) Bytes() []byte {
	return []byte(key)
}

func (key ByteArrayKey) String() string {
	return fmt.Sprintf("%x", string(key))
}

// PrimaryCard is the token a primary card hands out for backup linking. It is
// passed to the backup card unmodified.
type PrimaryCard struct {
	CardID               string   `cbor:"card_id"`
	CardPublicKey        []byte   `cbor:"card_pubkey"`
	LinkingKey           []byte   `cbor:"linking_key"`
	ExistingWalletsCount int      `cbor:"wallets"`
	IsHDWalletAllowed    bool     `cbor:"hd"`
	IsBackupAllowed      bool     `cbor:"backup"`
	IsKeysImportAllowed  bool     `cbor:"import"`
	BatchID              string   `cbor:"batch"`
	Version              string   `cbor:"ver"`
	WalletCurves         []string `cbor:"curves"`
}

// BackupCard identifies a card that was linked to a primary card.
type BackupCard struct {
	CardID        string `cbor:"card_id"`
	CardPublicKey []byte `cbor:"card_pubkey"`
	LinkingKey    []byte `cbor:"linking_key"`
}

func newWallets(data []walletData) ([]CardWallet, error) {
	wallets := make([]CardWallet, 0, len(data))
	for _, w := range data {
		curve, err := ParseEllipticCurve(w.Curve)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, CardWallet{
			PublicKey:  w.PublicKey,
			Curve:      curve,
			ChainCode:  w.ChainCode,
			IsImported: w.IsImported,
		})
	}
	return wallets, nil
}

func newCard(data cardData) (*Card, error) {
	version, err := ParseFirmwareVersion(data.Version)
	if err != nil {
		return nil, err
	}

	wallets, err := newWallets(data.Wallets)
	if err != nil {
		return nil, err
	}

	return &Card{
		CardID:          data.CardID,
		CardPublicKey:   data.CardPublicKey,
		BatchID:         data.BatchID,
		FirmwareVersion: version,
		Settings: Settings{
			IsHDWalletAllowed:   data.Settings.IsHDWalletAllowed,
			IsBackupAllowed:     data.Settings.IsBackupAllowed,
			IsKeysImportAllowed: data.Settings.IsKeysImportAllowed,
		},
		BackupStatus:    parseBackupStatus(data.BackupStatus),
		IsAccessCodeSet: data.AccessCodeSet,
		Wallets:         wallets,
	}, nil
}
