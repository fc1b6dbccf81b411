package emulator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoCard is returned by Connect when no card is in the field.
var ErrNoCard = errors.New("emulator: no card in field")

// Field is the NFC field of an emulated reader. Present a card, then connect
// to it as the next tap.
type Field struct {
	mu   sync.Mutex
	card *Card
}

// Present places card in the field, replacing any other card.
func (field *Field) Present(card *Card) {
	field.mu.Lock()
	defer field.mu.Unlock()
	field.card = card
}

// Remove takes the card out of the field.
func (field *Field) Remove() {
	field.mu.Lock()
	defer field.mu.Unlock()
	if field.card != nil {
		_ = field.card.Close()
	}
	field.card = nil
}

// Connect opens a session on the card in the field.
func (field *Field) Connect(ctx context.Context) (*Card, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	field.mu.Lock()
	defer field.mu.Unlock()

	if field.card == nil {
		return nil, ErrNoCard
	}

	field.card.Connect()

	return field.card, nil
}
