package cardwallet

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/skythen/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponse(t *testing.T) {

	t.Run("decodes the expected response", func(t *testing.T) {
		body, err := cbor.Marshal(resetBackupData{cardResponse: cardResponse{CardNonce: [16]byte{1}}, BackupStatus: "no_backup"})
		require.NoError(t, err)

		response, err := decodeResponse(cmdResetBackup, body)
		require.NoError(t, err)

		data, ok := response.(resetBackupData)
		require.True(t, ok)
		assert.Equal(t, "no_backup", data.BackupStatus)
		assert.Equal(t, [16]byte{1}, data.nonce())
	})

	t.Run("decodes card errors with their nonce", func(t *testing.T) {
		body, err := cbor.Marshal(errorData{cardResponse: cardResponse{CardNonce: [16]byte{2}}, Code: 401, Error: "bad auth"})
		require.NoError(t, err)

		response, err := decodeResponse(cmdPurgeWallet, body)

		var cardErr *CardError
		require.ErrorAs(t, err, &cardErr)
		assert.Equal(t, 401, cardErr.Code)
		assert.Equal(t, "card error 401: bad auth", cardErr.Error())

		data, ok := response.(errorData)
		require.True(t, ok)
		assert.Equal(t, [16]byte{2}, data.nonce())
	})

	t.Run("rejects unknown commands", func(t *testing.T) {
		_, err := decodeResponse("sign", nil)
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := decodeResponse(cmdReadCard, []byte{0xff, 0x00})
		assert.Error(t, err)
	})
}

func TestApdu(t *testing.T) {

	t.Run("wraps commands", func(t *testing.T) {
		capdu, err := apduWrap(readCardCommand{command{Cmd: cmdReadCard}})
		require.NoError(t, err)

		parsed, err := apdu.ParseCapdu(capdu)
		require.NoError(t, err)
		assert.Equal(t, byte(insCommand), parsed.Ins)

		var decoded map[string]any
		require.NoError(t, cbor.Unmarshal(parsed.Data, &decoded))
		assert.Equal(t, map[string]any{"cmd": "read_card"}, decoded)
	})

	t.Run("selects the applet", func(t *testing.T) {
		capdu, err := selectAppletRequest()
		require.NoError(t, err)

		parsed, err := apdu.ParseCapdu(capdu)
		require.NoError(t, err)
		assert.Equal(t, byte(insSelect), parsed.Ins)
		assert.Equal(t, byte(0x04), parsed.P1)
		assert.Equal(t, appletID, parsed.Data)
	})

	t.Run("rejects error status words", func(t *testing.T) {
		rapdu := apdu.Rapdu{SW1: 0x6A, SW2: 0x82}
		raw, err := rapdu.Bytes()
		require.NoError(t, err)

		_, err = apduUnwrap(raw)
		assert.EqualError(t, err, "incorrect status word: 6a82")
	})
}
