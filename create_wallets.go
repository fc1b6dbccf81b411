package cardwallet

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CreateWalletResponse is the card's answer to creating one wallet.
type CreateWalletResponse struct {
	Curve  EllipticCurve
	Wallet CardWallet
}

// createWalletsTask creates one wallet per curve, in order. The card handles
// one command at a time, so the next curve is only sent once the previous
// wallet exists. The first failure aborts the remaining curves; wallets
// already created stay on the card.
type createWalletsTask struct {
	curves     queue[EllipticCurve]
	masterKeys map[EllipticCurve]MasterKey
	pending    EllipticCurve
	responses  []CreateWalletResponse
}

func newCreateWalletsTask(curves []EllipticCurve, masterKeys map[EllipticCurve]MasterKey) *createWalletsTask {
	return &createWalletsTask{curves: newQueue(curves...), masterKeys: masterKeys}
}

func (t *createWalletsTask) next(response any) (request, error) {

	if response != nil {
		data, err := expect[createWalletData](response)
		if err != nil {
			return nil, err
		}

		wallets, err := newWallets([]walletData{data.Wallet})
		if err != nil {
			return nil, err
		}

		if wallets[0].Curve != t.pending {
			return nil, errors.Wrapf(ErrUnexpectedResponse, "created %s, expected %s", wallets[0].Curve, t.pending)
		}

		log.Debug().Stringer("curve", t.pending).Msg("Parse create_wallet")

		t.responses = append(t.responses, CreateWalletResponse{Curve: t.pending, Wallet: wallets[0]})
	}

	curve, ok := t.curves.dequeue()
	if !ok {
		return nil, nil
	}
	t.pending = curve

	cmd := &createWalletCommand{command: command{Cmd: cmdCreateWallet}, Curve: curve.String()}

	if key, ok := t.masterKeys[curve]; ok {
		cmd.PrivateKey = key.PrivateKey
		cmd.ChainCode = key.ChainCode
	}

	return cmd, nil
}

// wallets returns the wallets created so far.
func (t *createWalletsTask) wallets() []CardWallet {
	wallets := make([]CardWallet, 0, len(t.responses))
	for _, response := range t.responses {
		wallets = append(wallets, response.Wallet)
	}
	return wallets
}
