package emulator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fxamacker/cbor/v2"
	"github.com/skythen/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transmit(t *testing.T, card *Card, ins byte, data []byte) *apdu.Rapdu {
	capdu := apdu.Capdu{Cla: 0x00, Ins: ins, P1: 0x04, Data: data}
	b, err := capdu.Bytes()
	require.NoError(t, err)

	response, err := card.Transmit(context.Background(), b)
	require.NoError(t, err)

	rapdu, err := apdu.ParseRapdu(response)
	require.NoError(t, err)
	return rapdu
}

func send(t *testing.T, card *Card, req map[string]any, response any) {
	data, err := cbor.Marshal(req)
	require.NoError(t, err)

	rapdu := transmit(t, card, 0xCB, data)
	require.Equal(t, byte(0x90), rapdu.SW1)
	require.NoError(t, cbor.Unmarshal(rapdu.Data, response))
}

func selectedCard(t *testing.T, opts Options) *Card {
	card, err := New(opts)
	require.NoError(t, err)
	card.Connect()

	rapdu := transmit(t, card, 0xA4, appletID)
	require.Equal(t, byte(0x90), rapdu.SW1)
	return card
}

func TestCardSession(t *testing.T) {

	card, err := New(DefaultOptions())
	require.NoError(t, err)

	capdu := apdu.Capdu{Ins: 0xA4, Data: appletID}
	b, err := capdu.Bytes()
	require.NoError(t, err)

	_, err = card.Transmit(context.Background(), b)
	assert.ErrorIs(t, err, ErrNotConnected)

	card.Connect()

	rapdu := transmit(t, card, 0xCB, []byte{0xa0})
	assert.Equal(t, []byte{0x6D, 0x00}, []byte{rapdu.SW1, rapdu.SW2}, "commands need the applet selected")

	rapdu = transmit(t, card, 0xA4, []byte("another applet"))
	assert.Equal(t, []byte{0x6A, 0x82}, []byte{rapdu.SW1, rapdu.SW2})

	rapdu = transmit(t, card, 0xA4, appletID)
	require.Equal(t, byte(0x90), rapdu.SW1)

	var selected nonceResponse
	require.NoError(t, cbor.Unmarshal(rapdu.Data, &selected))
	assert.Len(t, selected.CardNonce, 16)

	var read readCardResponse
	send(t, card, map[string]any{"cmd": "read_card"}, &read)
	assert.Equal(t, "CB79000000018201", read.CardID)
	assert.Equal(t, card.PublicKey(), read.CardPublicKey)
	assert.Equal(t, statusNoBackup, read.BackupStatus)
	assert.False(t, read.AccessCodeSet)
	assert.NotEqual(t, selected.CardNonce, read.CardNonce)

	require.NoError(t, card.Close())
	_, err = card.Transmit(context.Background(), b)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Equal(t, []string{"read_card"}, card.Commands())
}

func TestCardRejectsUnauthenticatedChanges(t *testing.T) {

	card := selectedCard(t, DefaultOptions())

	var failed errorResponse
	send(t, card, map[string]any{"cmd": "create_wallet", "curve": "secp256k1"}, &failed)

	assert.Equal(t, CodeBadAuth, failed.Code)
	assert.Zero(t, card.WalletCount())
}

func TestCardFailures(t *testing.T) {

	card := selectedCard(t, DefaultOptions())
	card.FailOn("read_card", 2, CodeInvalidState)

	var read readCardResponse
	send(t, card, map[string]any{"cmd": "read_card"}, &read)
	assert.Equal(t, card.CardID(), read.CardID)

	var failed errorResponse
	send(t, card, map[string]any{"cmd": "read_card"}, &failed)
	assert.Equal(t, CodeInvalidState, failed.Code)

	send(t, card, map[string]any{"cmd": "read_card"}, &read)
	assert.Equal(t, card.CardID(), read.CardID, "a failure fires once")

	card.RemoveOn("read_card", 1)
	data, err := cbor.Marshal(map[string]any{"cmd": "read_card"})
	require.NoError(t, err)
	b, err := (&apdu.Capdu{Ins: 0xCB, Data: data}).Bytes()
	require.NoError(t, err)

	_, err = card.Transmit(context.Background(), b)
	assert.Error(t, err)
	_, err = card.Transmit(context.Background(), b)
	assert.ErrorIs(t, err, ErrNotConnected)

	card.ResetCommands()
	assert.Empty(t, card.Commands())
}

func TestCardOldFirmware(t *testing.T) {

	opts := DefaultOptions()
	opts.FirmwareVersion = "4.30"
	card := selectedCard(t, opts)

	var failed errorResponse
	send(t, card, map[string]any{"cmd": "read_wallets"}, &failed)
	assert.Equal(t, CodeInvalidCommand, failed.Code)

	assert.True(t, card.firmwareAtLeast(4, 30))
	assert.False(t, card.firmwareAtLeast(4, 39))
	assert.False(t, card.firmwareAtLeast(6, 0))
	assert.True(t, card.firmwareAtLeast(3, 99))
}

func TestCardCertificates(t *testing.T) {

	recoverChain := func(t *testing.T, card *Card) *secp256k1.PublicKey {
		var certs certsResponse
		send(t, card, map[string]any{"cmd": "certs"}, &certs)
		require.Len(t, certs.CertificateChain, 2)

		publicKey, err := secp256k1.ParsePubKey(card.PublicKey())
		require.NoError(t, err)

		for _, certificate := range certs.CertificateChain {
			digest := sha256.Sum256(publicKey.SerializeCompressed())
			publicKey, _, err = ecdsa.RecoverCompact(certificate, digest[:])
			require.NoError(t, err)
		}
		return publicKey
	}

	genuine := selectedCard(t, DefaultOptions())
	assert.Equal(t, FactoryPublicKey(), recoverChain(t, genuine).SerializeCompressed())

	opts := DefaultOptions()
	opts.Counterfeit = true
	counterfeit := selectedCard(t, opts)
	assert.NotEqual(t, FactoryPublicKey(), recoverChain(t, counterfeit).SerializeCompressed())
}

func TestCardCheck(t *testing.T) {

	card := selectedCard(t, DefaultOptions())

	var certs certsResponse
	send(t, card, map[string]any{"cmd": "certs"}, &certs)

	nonce := bytes.Repeat([]byte{0x42}, 16)

	var check checkResponse
	send(t, card, map[string]any{"cmd": "check", "nonce": nonce}, &check)
	require.Len(t, check.AuthSignature, 64)

	message := append([]byte(attestationMagic), certs.CardNonce...)
	message = append(message, nonce...)
	digest := sha256.Sum256(message)

	var r, s secp256k1.ModNScalar
	r.SetByteSlice(check.AuthSignature[:32])
	s.SetByteSlice(check.AuthSignature[32:])

	publicKey, err := secp256k1.ParsePubKey(card.PublicKey())
	require.NoError(t, err)
	assert.True(t, ecdsa.NewSignature(&r, &s).Verify(digest[:], publicKey))

	var failed errorResponse
	send(t, card, map[string]any{"cmd": "check", "nonce": []byte{1}}, &failed)
	assert.Equal(t, CodeInvalidCommand, failed.Code)
}
