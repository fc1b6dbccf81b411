package cardwallet

import (
	"context"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultAccessCode is the access code of a card that never had one set.
const DefaultAccessCode = "000000"

// Transport exchanges one APDU with the card. Cancelling ctx or removing the
// card fails the exchange.
type Transport interface {
	Transmit(ctx context.Context, capdu []byte) ([]byte, error)
	Close() error
}

// Reader waits for a card to be presented and connects to it.
type Reader interface {
	Connect(ctx context.Context) (Transport, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context) (Transport, error)

func (f ReaderFunc) Connect(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// task is a multi-command card flow expressed as a step function. next is
// called with nil first and then with each decoded response; it returns the
// next request, or nil when the flow is complete.
type task interface {
	next(response any) (request, error)
}

// accessCodeResolver supplies the access code for the card read in a session.
type accessCodeResolver func(card *Card) (string, error)

// Session is one tap: a connected card on which tasks run strictly one
// command at a time.
type Session struct {
	transport     Transport
	resolveCode   accessCodeResolver
	cardNonce     [16]byte
	cardPublicKey *secp256k1.PublicKey
	card          *Card
	accessCode    *string
}

func newSession(transport Transport, resolveCode accessCodeResolver) *Session {
	return &Session{transport: transport, resolveCode: resolveCode}
}

// open selects the wallet applet.
func (session *Session) open(ctx context.Context) error {

	log.Debug().Msg("Request select")

	capdu, err := selectAppletRequest()
	if err != nil {
		return err
	}

	rapdu, err := session.transport.Transmit(ctx, capdu)
	if err != nil {
		return errors.Wrap(err, "select applet")
	}

	if appletMissing(rapdu) {
		return errors.Wrap(ErrWrongCardType, "select applet")
	}

	body, err := apduUnwrap(rapdu)
	if err != nil {
		return errors.Wrap(err, "select applet")
	}

	var response cardResponse
	if len(body) > 0 {
		if err := cbor.Unmarshal(body, &response); err != nil {
			return errors.Wrap(err, "select applet")
		}
	}
	session.cardNonce = response.nonce()

	return nil
}

// run drives t until it completes or a command fails. Failures are never
// retried.
func (session *Session) run(ctx context.Context, t task) error {

	var response any

	for {
		req, err := t.next(response)
		if err != nil {
			return err
		}
		if req == nil {
			return nil
		}

		response, err = session.transceive(ctx, req)
		if err != nil {
			return err
		}
	}
}

func (session *Session) transceive(ctx context.Context, req request) (any, error) {

	cmd := req.name()

	log.Debug().Str("cmd", cmd).Msg("Request " + cmd)

	if authenticated, ok := req.(authenticatedRequest); ok {
		if err := session.authenticate(authenticated); err != nil {
			return nil, err
		}
	}

	capdu, err := apduWrap(req)
	if err != nil {
		return nil, err
	}

	rapdu, err := session.transport.Transmit(ctx, capdu)
	if err != nil {
		return nil, errors.Wrapf(err, "transmit %s", cmd)
	}

	body, err := apduUnwrap(rapdu)
	if err != nil {
		return nil, errors.Wrap(err, cmd)
	}

	log.Debug().Str("cmd", cmd).Msg("Parse " + cmd)

	response, err := decodeResponse(cmd, body)
	if nonced, ok := response.(interface{ nonce() [16]byte }); ok {
		session.cardNonce = nonced.nonce()
	}
	if err != nil {
		return nil, errors.Wrap(err, cmd)
	}

	if data, ok := response.(cardData); ok {
		if err := session.observeCard(data); err != nil {
			return nil, err
		}
	}

	return response, nil
}

func (session *Session) observeCard(data cardData) error {

	publicKey, err := secp256k1.ParsePubKey(data.CardPublicKey)
	if err != nil {
		return errors.Wrap(err, "invalid card public key")
	}

	if session.cardPublicKey != nil && !session.cardPublicKey.IsEqual(publicKey) {
		return ErrCardMismatch
	}

	card, err := newCard(data)
	if err != nil {
		return err
	}

	session.cardPublicKey = publicKey
	session.card = card

	return nil
}

func (session *Session) authenticate(req authenticatedRequest) error {

	if session.card == nil {
		return ErrMissingPreflightRead
	}

	code, err := session.resolveAccessCode()
	if err != nil {
		return err
	}

	a, sessionKey, err := authenticate(session.cardPublicKey, code, session.cardNonce, req.name())
	if err != nil {
		return errors.Wrap(err, "authenticate")
	}
	req.setAuth(a)

	if changing, ok := req.(codeChangingRequest); ok {
		return changing.encryptNewCode(sessionKey)
	}

	return nil
}

func (session *Session) resolveAccessCode() (string, error) {

	if session.accessCode != nil {
		return *session.accessCode, nil
	}

	code := DefaultAccessCode
	if session.card.IsAccessCodeSet {
		if session.resolveCode == nil {
			return "", ErrAccessCodeRequired
		}
		resolved, err := session.resolveCode(session.card)
		if err != nil {
			return "", err
		}
		code = resolved
	}

	session.accessCode = &code

	return code, nil
}

// useAccessCode replaces the code for the rest of the session, after the
// card accepted a new one.
func (session *Session) useAccessCode(code string) {
	session.accessCode = &code
}

func newAccessCodeHash(code string) newAccessCode {
	hash := sha256.Sum256([]byte(code))
	return newAccessCode{codeHash: hash[:]}
}

// expect asserts the type of a decoded response.
func expect[T any](response any) (T, error) {
	value, ok := response.(T)
	if !ok {
		var zero T
		return zero, errors.Wrapf(ErrUnexpectedResponse, "%T", response)
	}
	return value, nil
}
