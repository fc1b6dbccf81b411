package cardwallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createWalletHandler(t *testing.T, s *scriptedTransport, failCurve EllipticCurve) handler {
	return func(req map[string]any) any {
		curve, err := ParseEllipticCurve(req["curve"].(string))
		require.NoError(t, err)
		if curve == failCurve {
			return s.failure(409)
		}
		return createWalletData{cardResponse: cardResponse{CardNonce: s.nextNonce()}, Wallet: testWallet(t, curve)}
	}
}

func TestCreateWalletsTask(t *testing.T) {

	t.Run("creates every curve in order", func(t *testing.T) {
		s := newScriptedTransport(t)
		s.on(cmdReadCard, func(map[string]any) any { return s.cardData("6.33") })
		s.on(cmdCreateWallet, createWalletHandler(t, s, CurveUnknown))

		create := newCreateWalletsTask([]EllipticCurve{Secp256k1, Ed25519, Bip0340}, nil)
		require.NoError(t, s.run(&afterRead{then: create}))

		assert.Equal(t, []string{cmdReadCard, cmdCreateWallet, cmdCreateWallet, cmdCreateWallet}, s.commands)
		require.Len(t, create.responses, 3)
		assert.Equal(t, Secp256k1, create.responses[0].Curve)
		assert.Equal(t, Ed25519, create.responses[1].Curve)
		assert.Equal(t, Bip0340, create.responses[2].Curve)
		assert.Len(t, create.wallets(), 3)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		s := newScriptedTransport(t)
		s.on(cmdReadCard, func(map[string]any) any { return s.cardData("6.33") })
		s.on(cmdCreateWallet, createWalletHandler(t, s, Ed25519))

		create := newCreateWalletsTask([]EllipticCurve{Secp256k1, Ed25519, Bip0340}, nil)
		err := s.run(&afterRead{then: create})

		var cardErr *CardError
		require.ErrorAs(t, err, &cardErr)
		assert.Equal(t, 409, cardErr.Code)

		require.Len(t, create.responses, 1)
		assert.Equal(t, Secp256k1, create.responses[0].Curve)
		assert.Equal(t, []string{cmdReadCard, cmdCreateWallet, cmdCreateWallet}, s.commands)
		assert.Equal(t, "ed25519", s.requests[2]["curve"])
	})

	t.Run("sends imported master keys", func(t *testing.T) {
		s := newScriptedTransport(t)
		s.on(cmdReadCard, func(map[string]any) any { return s.cardData("6.33") })
		s.on(cmdCreateWallet, createWalletHandler(t, s, CurveUnknown))

		key := MasterKey{PrivateKey: make([]byte, 32), ChainCode: make([]byte, 32)}
		key.PrivateKey[31] = 1

		create := newCreateWalletsTask([]EllipticCurve{Secp256k1}, map[EllipticCurve]MasterKey{Secp256k1: key})
		require.NoError(t, s.run(&afterRead{then: create}))

		assert.Equal(t, key.PrivateKey, s.requests[1]["privkey"])
		assert.Equal(t, key.ChainCode, s.requests[1]["chain_code"])
		assert.NotNil(t, s.requests[1]["xcvc"])
		assert.NotNil(t, s.requests[1]["epubkey"])
	})

	t.Run("rejects a wallet on another curve", func(t *testing.T) {
		s := newScriptedTransport(t)
		s.on(cmdReadCard, func(map[string]any) any { return s.cardData("6.33") })
		s.on(cmdCreateWallet, func(map[string]any) any {
			return createWalletData{cardResponse: cardResponse{CardNonce: s.nextNonce()}, Wallet: testWallet(t, Ed25519)}
		})

		create := newCreateWalletsTask([]EllipticCurve{Secp256k1}, nil)
		err := s.run(&afterRead{then: create})
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
		assert.Empty(t, create.responses)
	})
}
