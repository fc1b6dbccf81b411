// Package scard connects to cards through a PC/SC reader.
package scard

import (
	"context"
	"time"

	"github.com/ebfe/scard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	cardwallet "github.com/schjonhaug/cardwallet-go"
)

// ErrNoReader is returned when no PC/SC reader is attached.
var ErrNoReader = errors.New("scard: no reader found")

// pollInterval bounds each wait for a card so cancellation is noticed.
const pollInterval = 500 * time.Millisecond

// Reader waits for a card on any attached reader, or on the one named.
type Reader struct {
	Name string
}

var _ cardwallet.Reader = (*Reader)(nil)

// Connect blocks until a card is present and opens an exclusive connection.
func (reader *Reader) Connect(ctx context.Context) (cardwallet.Transport, error) {

	scardContext, err := scard.EstablishContext()
	if err != nil {
		return nil, errors.Wrap(err, "establish context")
	}

	readers, err := reader.readers(scardContext)
	if err != nil {
		_ = scardContext.Release()
		return nil, err
	}

	log.Debug().Strs("readers", readers).Msg("Waiting for a card")

	index, err := waitUntilCardPresent(ctx, scardContext, readers)
	if err != nil {
		_ = scardContext.Release()
		return nil, err
	}

	log.Debug().Str("reader", readers[index]).Msg("Connecting to card")

	card, err := scardContext.Connect(readers[index], scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		_ = scardContext.Release()
		return nil, errors.Wrap(err, "connect")
	}

	return &transport{context: scardContext, card: card}, nil
}

func (reader *Reader) readers(scardContext *scard.Context) ([]string, error) {

	readers, err := scardContext.ListReaders()
	if err != nil {
		return nil, errors.Wrap(err, "list readers")
	}

	if reader.Name == "" {
		if len(readers) == 0 {
			return nil, ErrNoReader
		}
		return readers, nil
	}

	for _, name := range readers {
		if name == reader.Name {
			return []string{name}, nil
		}
	}

	return nil, errors.Wrapf(ErrNoReader, "%q", reader.Name)
}

func waitUntilCardPresent(ctx context.Context, scardContext *scard.Context, readers []string) (int, error) {

	rs := make([]scard.ReaderState, len(readers))
	for i := range rs {
		rs[i].Reader = readers[i]
		rs[i].CurrentState = scard.StateUnaware
	}

	for {
		for i := range rs {
			if rs[i].EventState&scard.StatePresent != 0 {
				return i, nil
			}
			rs[i].CurrentState = rs[i].EventState
		}

		if err := ctx.Err(); err != nil {
			return -1, err
		}

		err := scardContext.GetStatusChange(rs, pollInterval)
		if err != nil && err != scard.ErrTimeout {
			return -1, errors.Wrap(err, "wait for card")
		}
	}
}

type transport struct {
	context *scard.Context
	card    *scard.Card
}

func (t *transport) Transmit(ctx context.Context, capdu []byte) ([]byte, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debug().Hex("c-apdu", capdu).Msg("Transmit")

	rapdu, err := t.card.Transmit(capdu)
	if err != nil {
		return nil, errors.Wrap(err, "transmit")
	}

	log.Debug().Hex("r-apdu", rapdu).Msg("Receive")

	return rapdu, nil
}

func (t *transport) Close() error {
	disconnectErr := t.card.Disconnect(scard.ResetCard)
	releaseErr := t.context.Release()
	if disconnectErr != nil {
		return errors.Wrap(disconnectErr, "disconnect")
	}
	return errors.Wrap(releaseErr, "release")
}
