package cardwallet

import (
	"github.com/rs/zerolog/log"
)

// PreflightReadFilter is invoked after the full card read that opens every
// flow. Returning an error vetoes the flow before any other command is sent.
type PreflightReadFilter interface {
	OnFullCardRead(card *Card) error
}

// PreflightReadFunc adapts a function to PreflightReadFilter.
type PreflightReadFunc func(card *Card) error

func (f PreflightReadFunc) OnFullCardRead(card *Card) error {
	return f(card)
}

type readCardTask struct {
	filter PreflightReadFilter
	card   *Card
}

func (t *readCardTask) next(response any) (request, error) {

	if response == nil {
		return &readCardCommand{command{Cmd: cmdReadCard}}, nil
	}

	data, err := expect[cardData](response)
	if err != nil {
		return nil, err
	}

	card, err := newCard(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("card_id", card.CardID).
		Stringer("firmware", card.FirmwareVersion).
		Int("wallets", len(card.Wallets)).
		Msg("Parse read_card")

	if t.filter != nil {
		if err := t.filter.OnFullCardRead(card); err != nil {
			return nil, err
		}
	}

	t.card = card

	return nil, nil
}

// readWalletsTask lists the wallets on cards that support it.
type readWalletsTask struct {
	wallets []CardWallet
}

func (t *readWalletsTask) next(response any) (request, error) {

	if response == nil {
		return &readWalletsCommand{command{Cmd: cmdReadWallets}}, nil
	}

	data, err := expect[walletListData](response)
	if err != nil {
		return nil, err
	}

	wallets, err := newWallets(data.Wallets)
	if err != nil {
		return nil, err
	}

	t.wallets = wallets

	return nil, nil
}
