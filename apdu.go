package cardwallet

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/skythen/apdu"
)

const (
	claCardWallet = 0x00
	insCommand    = 0xCB
	insSelect     = 0xA4
)

// appletID selects the wallet applet on multi-curve cards.
var appletID = []byte{0xf0, 'C', 'a', 'r', 'd', 'W', 'a', 'l', 'l', 'e', 't', 'v', '2'}

// apduWrap serializes a request with CBOR and wraps it into an APDU command.
func apduWrap(value interface{}) ([]byte, error) {

	cborSerialized, err := cbor.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode command")
	}

	capdu := apdu.Capdu{Cla: claCardWallet, Ins: insCommand, Data: cborSerialized}

	return capdu.Bytes()

}

// apduUnwrap parses an APDU response and returns its data field.
func apduUnwrap(value []byte) ([]byte, error) {

	rapdu, err := apdu.ParseRapdu(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse response apdu")
	}

	if rapdu.SW1 != 0x90 {
		return nil, errors.Errorf("incorrect status word: %02x%02x", rapdu.SW1, rapdu.SW2)
	}

	return rapdu.Data, nil

}

// appletMissing reports whether the card refused SELECT because it does not
// carry the wallet applet.
func appletMissing(value []byte) bool {
	rapdu, err := apdu.ParseRapdu(value)
	return err == nil && rapdu.SW1 == 0x6A && rapdu.SW2 == 0x82
}

// selectAppletRequest builds the ISO SELECT command that opens a session.
func selectAppletRequest() ([]byte, error) {

	capdu := apdu.Capdu{Cla: claCardWallet, Ins: insSelect, P1: 0x04, Data: appletID}

	return capdu.Bytes()

}
