// Package emulator implements an in-memory multi-curve wallet card that
// speaks the same APDU protocol as the real hardware.
package emulator

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"strconv"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/skythen/apdu"
)

// Card error codes.
const (
	CodeInvalidCommand = 400
	CodeBadAuth        = 401
	CodeNotFound       = 404
	CodeInvalidState   = 405
	CodeNotAllowed     = 406
	CodeAlreadyExists  = 409
)

const (
	statusNoBackup   = "no_backup"
	statusCardLinked = "card_linked"
	statusActive     = "active"
)

var appletID = []byte{0xf0, 'C', 'a', 'r', 'd', 'W', 'a', 'l', 'l', 'e', 't', 'v', '2'}

// ErrNotConnected is returned when a command arrives outside a session.
var ErrNotConnected = errors.New("emulator: card not connected")

// Options configure a new card.
type Options struct {
	CardID            string
	BatchID           string
	FirmwareVersion   string
	HDWalletAllowed   bool
	BackupAllowed     bool
	KeysImportAllowed bool
	// AccessCode protects the card; empty leaves the factory default.
	AccessCode string
	// Counterfeit cards are not certified by the factory root.
	Counterfeit bool
}

// DefaultOptions describe a current generation card with every feature on.
func DefaultOptions() Options {
	return Options{
		CardID:            "CB79000000018201",
		BatchID:           "AF99",
		FirmwareVersion:   "6.33",
		HDWalletAllowed:   true,
		BackupAllowed:     true,
		KeysImportAllowed: true,
	}
}

type failure struct {
	cmd       string
	remaining int
	code      int
	transport bool
}

// Card is an emulated card. It is safe for concurrent use, but like the
// hardware it processes one command at a time.
type Card struct {
	mu sync.Mutex

	opts          Options
	cardKey       *secp256k1.PrivateKey
	linkingKey    *secp256k1.PrivateKey
	certificates  [][]byte
	nonce         [16]byte
	accessCode    [32]byte
	accessCodeSet bool
	wallets       []*wallet
	backupStatus  string
	primary       *primaryToken
	connected     bool
	selected      bool
	failures      []*failure
	commands      []string
}

// New creates a factory fresh card.
func New(opts Options) (*Card, error) {

	cardKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	linkingKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	certificates, err := certificateChain(cardKey, opts.Counterfeit)
	if err != nil {
		return nil, err
	}

	card := &Card{
		opts:         opts,
		cardKey:      cardKey,
		linkingKey:   linkingKey,
		certificates: certificates,
		backupStatus: statusNoBackup,
	}

	code := opts.AccessCode
	if code == "" {
		code = "000000"
	} else {
		card.accessCodeSet = true
	}
	card.accessCode = sha256.Sum256([]byte(code))

	return card, nil
}

// Connect starts a session, as placing the card on a reader does.
func (card *Card) Connect() {
	card.mu.Lock()
	defer card.mu.Unlock()
	card.connected = true
	card.selected = false
}

// Close ends the session.
func (card *Card) Close() error {
	card.mu.Lock()
	defer card.mu.Unlock()
	card.connected = false
	card.selected = false
	return nil
}

func (card *Card) CardID() string {
	return card.opts.CardID
}

// PublicKey is the card's authentication key.
func (card *Card) PublicKey() []byte {
	return card.cardKey.PubKey().SerializeCompressed()
}

// Commands returns the names of the commands received so far, in order.
func (card *Card) Commands() []string {
	card.mu.Lock()
	defer card.mu.Unlock()
	return append([]string(nil), card.commands...)
}

// ResetCommands clears the command log.
func (card *Card) ResetCommands() {
	card.mu.Lock()
	defer card.mu.Unlock()
	card.commands = nil
}

// FailOn makes the nth next occurrence of cmd fail with code.
func (card *Card) FailOn(cmd string, nth int, code int) {
	card.mu.Lock()
	defer card.mu.Unlock()
	card.failures = append(card.failures, &failure{cmd: cmd, remaining: nth, code: code})
}

// RemoveOn drops the connection on the nth next occurrence of cmd, as lifting
// the card off the reader does.
func (card *Card) RemoveOn(cmd string, nth int) {
	card.mu.Lock()
	defer card.mu.Unlock()
	card.failures = append(card.failures, &failure{cmd: cmd, remaining: nth, transport: true})
}

// InjectWallet adds a wallet without the checks create_wallet performs, to
// model corrupted cards.
func (card *Card) InjectWallet(curve string) ([]byte, error) {
	card.mu.Lock()
	defer card.mu.Unlock()
	w, err := newWallet(curve, nil, nil, card.opts.HDWalletAllowed)
	if err != nil {
		return nil, err
	}
	card.wallets = append(card.wallets, w)
	return w.publicKey, nil
}

// SetBackupStatus overrides the backup status.
func (card *Card) SetBackupStatus(status string) {
	card.mu.Lock()
	defer card.mu.Unlock()
	card.backupStatus = status
}

// WalletCount returns the number of wallets on the card.
func (card *Card) WalletCount() int {
	card.mu.Lock()
	defer card.mu.Unlock()
	return len(card.wallets)
}

// Transmit handles one command APDU.
func (card *Card) Transmit(ctx context.Context, capdu []byte) ([]byte, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	card.mu.Lock()
	defer card.mu.Unlock()

	if !card.connected {
		return nil, ErrNotConnected
	}

	command, err := apdu.ParseCapdu(capdu)
	if err != nil {
		return statusWord(0x67, 0x00)
	}

	switch {
	case command.Ins == 0xA4:
		if !bytes.Equal(command.Data, appletID) {
			return statusWord(0x6A, 0x82)
		}
		card.selected = true
		card.rotateNonce()
		return card.reply(nonceResponse{CardNonce: card.nonce[:]})

	case command.Ins == 0xCB && card.selected:
		var req request
		if err := cbor.Unmarshal(command.Data, &req); err != nil {
			return card.fail(CodeInvalidCommand, "invalid cbor")
		}

		card.commands = append(card.commands, req.Cmd)
		log.Debug().Str("card_id", card.opts.CardID).Str("cmd", req.Cmd).Msg("Emulator command")

		if f := card.takeFailure(req.Cmd); f != nil {
			if f.transport {
				card.connected = false
				return nil, errors.Errorf("card removed during %s", req.Cmd)
			}
			return card.fail(f.code, "injected failure")
		}

		return card.dispatch(&req)

	default:
		return statusWord(0x6D, 0x00)
	}
}

func (card *Card) takeFailure(cmd string) *failure {
	for i, f := range card.failures {
		if f.cmd != cmd {
			continue
		}
		f.remaining--
		if f.remaining > 0 {
			return nil
		}
		card.failures = append(card.failures[:i], card.failures[i+1:]...)
		return f
	}
	return nil
}

func (card *Card) dispatch(req *request) ([]byte, error) {

	switch req.Cmd {
	case "read_card":
		return card.readCard()
	case "read_wallets":
		if !card.firmwareAtLeast(4, 39) {
			return card.fail(CodeInvalidCommand, "unknown command")
		}
		return card.reply(walletListResponse{CardNonce: card.nextNonce(), Wallets: card.walletResponses()})
	case "derive":
		return card.derive(req)
	case "read_primary":
		return card.readPrimary()
	case "link_primary":
		return card.linkPrimary(req)
	case "certs":
		return card.certs()
	case "check":
		return card.check(req)
	}

	// Everything else changes the card and needs the access code.
	sessionKey, ok := card.checkAuth(req)
	if !ok {
		return card.fail(CodeBadAuth, "bad auth")
	}

	switch req.Cmd {
	case "create_wallet":
		return card.createWallet(req)
	case "purge_wallet":
		return card.purgeWallet(req)
	case "link_backups":
		return card.linkBackups(req, sessionKey)
	case "write_backup":
		return card.writeBackup(req, sessionKey)
	case "reset_backup":
		card.backupStatus = statusNoBackup
		card.primary = nil
		return card.reply(backupStatusResponse{CardNonce: card.nextNonce(), BackupStatus: card.backupStatus})
	default:
		return card.fail(CodeInvalidCommand, "unknown command")
	}
}

// checkAuth verifies xcvc against the nonce the card last handed out.
func (card *Card) checkAuth(req *request) ([32]byte, bool) {

	ephemeralKey, err := secp256k1.ParsePubKey(req.EphemeralPubKey)
	if err != nil || len(req.XCVC) != 32 {
		return [32]byte{}, false
	}

	sessionKey := sha256.Sum256(sharedSecret(card.cardKey, ephemeralKey))
	md := sha256.Sum256(append(append([]byte(nil), card.nonce[:]...), req.Cmd...))

	expected := make([]byte, 32)
	for i := range expected {
		expected[i] = card.accessCode[i] ^ sessionKey[i] ^ md[i]
	}

	return sessionKey, bytes.Equal(expected, req.XCVC)
}

// newAccessCode unmasks an xcode with the command's session key.
func newAccessCode(xcode []byte, sessionKey [32]byte) ([32]byte, bool) {
	var code [32]byte
	if len(xcode) != 32 {
		return code, false
	}
	for i := range code {
		code[i] = xcode[i] ^ sessionKey[i]
	}
	return code, true
}

func sharedSecret(privateKey *secp256k1.PrivateKey, publicKey *secp256k1.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	publicKey.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&privateKey.Key, &point, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y).SerializeCompressed()
}

func (card *Card) readCard() ([]byte, error) {
	return card.reply(readCardResponse{
		CardNonce:     card.nextNonce(),
		CardID:        card.opts.CardID,
		CardPublicKey: card.PublicKey(),
		BatchID:       card.opts.BatchID,
		Version:       card.opts.FirmwareVersion,
		Settings: settingsResponse{
			HD:     card.opts.HDWalletAllowed,
			Backup: card.opts.BackupAllowed,
			Import: card.opts.KeysImportAllowed,
		},
		BackupStatus:  card.backupStatus,
		AccessCodeSet: card.accessCodeSet,
		Wallets:       card.walletResponses(),
	})
}

func (card *Card) walletResponses() []walletResponse {
	wallets := make([]walletResponse, 0, len(card.wallets))
	for _, w := range card.wallets {
		wallets = append(wallets, w.response())
	}
	return wallets
}

func (card *Card) wallet(publicKey []byte) (int, *wallet) {
	for i, w := range card.wallets {
		if bytes.Equal(w.publicKey, publicKey) {
			return i, w
		}
	}
	return -1, nil
}

func (card *Card) createWallet(req *request) ([]byte, error) {

	if card.backupStatus == statusCardLinked {
		return card.fail(CodeInvalidState, "card is linked as a backup")
	}
	for _, w := range card.wallets {
		if w.curve == req.Curve {
			return card.fail(CodeAlreadyExists, "wallet already created")
		}
	}
	if req.PrivateKey != nil && !card.opts.KeysImportAllowed {
		return card.fail(CodeNotAllowed, "keys import not allowed")
	}

	w, err := newWallet(req.Curve, req.PrivateKey, req.ChainCode, card.opts.HDWalletAllowed)
	if err != nil {
		return card.fail(CodeInvalidCommand, err.Error())
	}
	card.wallets = append(card.wallets, w)

	return card.reply(createWalletResponse{CardNonce: card.nextNonce(), Wallet: w.response()})
}

func (card *Card) purgeWallet(req *request) ([]byte, error) {

	i, w := card.wallet(req.PublicKey)
	if w == nil {
		return card.fail(CodeNotFound, "wallet not found")
	}
	card.wallets = append(card.wallets[:i], card.wallets[i+1:]...)

	return card.reply(nonceResponse{CardNonce: card.nextNonce()})
}

func (card *Card) derive(req *request) ([]byte, error) {

	if !card.opts.HDWalletAllowed {
		return card.fail(CodeNotAllowed, "hd wallet not allowed")
	}

	_, w := card.wallet(req.PublicKey)
	if w == nil {
		return card.fail(CodeNotFound, "wallet not found")
	}

	keys := make([]derivedKeyResponse, 0, len(req.Paths))
	for _, path := range req.Paths {
		key, err := w.derive(path)
		if err != nil {
			return card.fail(CodeInvalidCommand, err.Error())
		}
		keys = append(keys, key)
	}

	return card.reply(deriveResponse{CardNonce: card.nextNonce(), Keys: keys})
}

func (card *Card) firmwareAtLeast(major, minor int) bool {
	parts := strings.SplitN(card.opts.FirmwareVersion, ".", 3)
	if len(parts) < 2 {
		return false
	}
	cardMajor, _ := strconv.Atoi(parts[0])
	cardMinor, _ := strconv.Atoi(strings.TrimRightFunc(parts[1], func(r rune) bool { return r < '0' || r > '9' }))
	if cardMajor != major {
		return cardMajor > major
	}
	return cardMinor >= minor
}

func (card *Card) rotateNonce() {
	if _, err := rand.Read(card.nonce[:]); err != nil {
		panic(err)
	}
}

// nextNonce hands out a fresh nonce for the next authenticated command.
func (card *Card) nextNonce() []byte {
	card.rotateNonce()
	return append([]byte(nil), card.nonce[:]...)
}

func (card *Card) fail(code int, message string) ([]byte, error) {
	log.Debug().Str("card_id", card.opts.CardID).Int("code", code).Str("error", message).Msg("Emulator error")
	return card.reply(errorResponse{CardNonce: card.nextNonce(), Code: code, Error: message})
}

func (card *Card) reply(value any) ([]byte, error) {
	data, err := cbor.Marshal(value)
	if err != nil {
		return nil, err
	}
	rapdu := apdu.Rapdu{Data: data, SW1: 0x90, SW2: 0x00}
	return rapdu.Bytes()
}

func statusWord(sw1, sw2 byte) ([]byte, error) {
	rapdu := apdu.Rapdu{SW1: sw1, SW2: sw2}
	return rapdu.Bytes()
}
