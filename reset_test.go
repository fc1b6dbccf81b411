package cardwallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetTransport(t *testing.T, status string, wallets ...walletData) *scriptedTransport {
	s := newScriptedTransport(t)
	s.on(cmdReadCard, func(map[string]any) any {
		data := s.cardData("6.33", wallets...)
		data.BackupStatus = status
		return data
	})
	s.on(cmdPurgeWallet, func(map[string]any) any {
		return purgeWalletData{cardResponse: cardResponse{CardNonce: s.nextNonce()}}
	})
	s.on(cmdResetBackup, func(map[string]any) any {
		return resetBackupData{cardResponse: cardResponse{CardNonce: s.nextNonce()}, BackupStatus: "no_backup"}
	})
	return s
}

func TestResetToFactorySettings(t *testing.T) {

	t.Run("purges every wallet then resets the backup", func(t *testing.T) {
		first, second := testWallet(t, Secp256k1), testWallet(t, Ed25519)
		s := resetTransport(t, "active", first, second)

		reset := newResetToFactorySettingsTask()
		require.NoError(t, s.run(reset))

		assert.Equal(t, []string{cmdReadCard, cmdPurgeWallet, cmdPurgeWallet, cmdResetBackup}, s.commands)
		assert.Equal(t, first.PublicKey, s.requests[1]["pubkey"])
		assert.Equal(t, second.PublicKey, s.requests[2]["pubkey"])

		result := reset.result()
		assert.True(t, result.DidReset)
		assert.Equal(t, second.PublicKey, result.LastWalletPublicKey)
		assert.Empty(t, result.Card.Wallets)
		assert.Equal(t, BackupStatusNoBackup, result.Card.BackupStatus)
	})

	t.Run("skips the backup reset without a backup", func(t *testing.T) {
		s := resetTransport(t, "no_backup", testWallet(t, Secp256k1))

		reset := newResetToFactorySettingsTask()
		require.NoError(t, s.run(reset))

		assert.Equal(t, []string{cmdReadCard, cmdPurgeWallet}, s.commands)
		assert.True(t, reset.result().DidReset)
	})

	t.Run("resets only the backup of an empty linked card", func(t *testing.T) {
		s := resetTransport(t, "card_linked")

		reset := newResetToFactorySettingsTask()
		require.NoError(t, s.run(reset))

		assert.Equal(t, []string{cmdReadCard, cmdResetBackup}, s.commands)
		result := reset.result()
		assert.True(t, result.DidReset)
		assert.Nil(t, result.LastWalletPublicKey)
	})

	t.Run("does nothing on an empty card", func(t *testing.T) {
		s := resetTransport(t, "no_backup")

		reset := newResetToFactorySettingsTask()
		require.NoError(t, s.run(reset))

		assert.Equal(t, []string{cmdReadCard}, s.commands)
		assert.False(t, reset.result().DidReset)
	})

	t.Run("stops at a failed purge", func(t *testing.T) {
		s := resetTransport(t, "active", testWallet(t, Secp256k1), testWallet(t, Ed25519))
		s.on(cmdPurgeWallet, func(map[string]any) any { return s.failure(401) })

		reset := newResetToFactorySettingsTask()
		err := s.run(reset)

		var cardErr *CardError
		require.ErrorAs(t, err, &cardErr)
		assert.Equal(t, []string{cmdReadCard, cmdPurgeWallet}, s.commands)
		assert.False(t, reset.result().DidReset)
	})
}

func TestResetBackupCard(t *testing.T) {

	t.Run("refuses the primary card before purging", func(t *testing.T) {
		primary := testWallet(t, Secp256k1)
		s := resetTransport(t, "active", primary, testWallet(t, Ed25519))

		reset := newResetBackupCardTask(primary.PublicKey)
		err := s.run(reset)

		assert.ErrorIs(t, err, ErrWalletNotFound)
		assert.Equal(t, []string{cmdReadCard}, s.commands)
		assert.False(t, reset.result().DidReset)
	})

	t.Run("resets a backup card", func(t *testing.T) {
		primary := testWallet(t, Secp256k1)
		s := resetTransport(t, "active", testWallet(t, Secp256k1))

		reset := newResetBackupCardTask(primary.PublicKey)
		require.NoError(t, s.run(reset))

		assert.Equal(t, []string{cmdReadCard, cmdPurgeWallet, cmdResetBackup}, s.commands)
		assert.True(t, reset.result().DidReset)
	})
}
