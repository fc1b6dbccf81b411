package cardwallet

import (
	"context"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/skythen/apdu"
	"github.com/stretchr/testify/require"
)

// handler answers one command. Returning errorData makes the card fail it.
type handler func(req map[string]any) any

// scriptedTransport is a card that answers every command with a canned
// response. It does not check authentication.
type scriptedTransport struct {
	cardKey  *secp256k1.PrivateKey
	handlers map[string]handler
	commands []string
	requests []map[string]any
	nonce    byte

	// noApplet answers SELECT like a card without the wallet applet.
	noApplet bool
}

func newScriptedTransport(t *testing.T) *scriptedTransport {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return &scriptedTransport{cardKey: key, handlers: map[string]handler{}}
}

func (s *scriptedTransport) on(cmd string, h handler) *scriptedTransport {
	s.handlers[cmd] = h
	return s
}

func (s *scriptedTransport) nextNonce() [16]byte {
	s.nonce++
	var nonce [16]byte
	nonce[15] = s.nonce
	return nonce
}

func (s *scriptedTransport) Transmit(ctx context.Context, capdu []byte) ([]byte, error) {

	command, err := apdu.ParseCapdu(capdu)
	if err != nil {
		return nil, err
	}

	if command.Ins == insSelect {
		if s.noApplet {
			return (&apdu.Rapdu{SW1: 0x6A, SW2: 0x82}).Bytes()
		}
		return s.reply(cardResponse{CardNonce: s.nextNonce()})
	}

	var req map[string]any
	if err := cbor.Unmarshal(command.Data, &req); err != nil {
		return nil, err
	}

	cmd, _ := req["cmd"].(string)
	s.commands = append(s.commands, cmd)
	s.requests = append(s.requests, req)

	h, ok := s.handlers[cmd]
	if !ok {
		return s.reply(errorData{cardResponse: cardResponse{CardNonce: s.nextNonce()}, Code: 400, Error: "unknown command"})
	}

	return s.reply(h(req))
}

func (s *scriptedTransport) Close() error {
	return nil
}

func (s *scriptedTransport) reply(value any) ([]byte, error) {
	data, err := cbor.Marshal(value)
	if err != nil {
		return nil, err
	}
	rapdu := apdu.Rapdu{Data: data, SW1: 0x90, SW2: 0x00}
	return rapdu.Bytes()
}

// cardData builds a read_card answer for this card.
func (s *scriptedTransport) cardData(version string, wallets ...walletData) cardData {
	return cardData{
		cardResponse:  cardResponse{CardNonce: s.nextNonce()},
		CardID:        "CB79000000018201",
		CardPublicKey: s.cardKey.PubKey().SerializeCompressed(),
		BatchID:       "AF99",
		Version:       version,
		Settings:      settingsData{IsHDWalletAllowed: true, IsBackupAllowed: true, IsKeysImportAllowed: true},
		BackupStatus:  "no_backup",
		Wallets:       wallets,
	}
}

func (s *scriptedTransport) failure(code int) errorData {
	return errorData{cardResponse: cardResponse{CardNonce: s.nextNonce()}, Code: code, Error: "failed"}
}

// run opens a session on s and drives t to completion.
func (s *scriptedTransport) run(t task) error {
	session := newSession(s, func(*Card) (string, error) { return "123456", nil })
	if err := session.open(context.Background()); err != nil {
		return err
	}
	return session.run(context.Background(), t)
}

// afterRead runs then once the card was read, as every flow does.
type afterRead struct {
	read readCardTask
	then task
	done bool
}

func (t *afterRead) next(response any) (request, error) {
	if t.done {
		return t.then.next(response)
	}
	req, err := t.read.next(response)
	if err != nil || req != nil {
		return req, err
	}
	t.done = true
	return t.then.next(nil)
}

func testWallet(t *testing.T, curve EllipticCurve) walletData {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return walletData{PublicKey: key.PubKey().SerializeCompressed(), Curve: curve.String(), ChainCode: make([]byte, 32)}
}
