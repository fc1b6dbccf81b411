package cardwallet

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// DATA

type cardResponse struct {
	CardNonce [16]byte `cbor:"card_nonce"`
}

func (r cardResponse) nonce() [16]byte {
	return r.CardNonce
}

type settingsData struct {
	IsHDWalletAllowed   bool `cbor:"hd"`
	IsBackupAllowed     bool `cbor:"backup"`
	IsKeysImportAllowed bool `cbor:"import"`
}

type walletData struct {
	PublicKey  []byte `cbor:"pubkey"`
	Curve      string `cbor:"curve"`
	ChainCode  []byte `cbor:"chain_code,omitempty"`
	IsImported bool   `cbor:"imported"`
}

type cardData struct {
	cardResponse
	CardID        string       `cbor:"card_id"`
	CardPublicKey []byte       `cbor:"card_pubkey"`
	BatchID       string       `cbor:"batch"`
	Version       string       `cbor:"ver"`
	Settings      settingsData `cbor:"settings"`
	BackupStatus  string       `cbor:"backup_status"`
	AccessCodeSet bool         `cbor:"access_code_set"`
	Wallets       []walletData `cbor:"wallets"`
}

type walletListData struct {
	cardResponse
	Wallets []walletData `cbor:"wallets"`
}

type createWalletData struct {
	cardResponse
	Wallet walletData `cbor:"wallet"`
}

type purgeWalletData struct {
	cardResponse
}

type derivedKeyData struct {
	Path      string `cbor:"path"`
	PublicKey []byte `cbor:"pubkey"`
	ChainCode []byte `cbor:"chain_code"`
}

type deriveData struct {
	cardResponse
	Keys []derivedKeyData `cbor:"keys"`
}

type primaryCardData struct {
	cardResponse
	Primary PrimaryCard `cbor:"primary"`
}

type backupCardData struct {
	cardResponse
	Backup BackupCard `cbor:"backup"`
}

type backupPayload struct {
	CardID string `cbor:"card_id"`
	Data   []byte `cbor:"data"`
}

type linkBackupsData struct {
	cardResponse
	Backups []backupPayload `cbor:"backups"`
}

type writeBackupData struct {
	cardResponse
	BackupStatus string       `cbor:"backup_status"`
	Wallets      []walletData `cbor:"wallets"`
}

type resetBackupData struct {
	cardResponse
	BackupStatus string `cbor:"backup_status"`
}

type certsData struct {
	cardResponse
	CertificateChain [][65]byte `cbor:"cert_chain"`
}

type checkData struct {
	cardResponse
	AuthSignature [64]byte `cbor:"auth_sig"`
}

type errorData struct {
	cardResponse
	Code  int    `cbor:"code"`
	Error string `cbor:"error"`
}

// decodeResponse decodes the CBOR body answering the named command. A body
// that does not match the expected response is tried as a card error.
func decodeResponse(cmd string, body []byte) (any, error) {

	switch cmd {
	case cmdReadCard:
		return decode[cardData](body)
	case cmdReadWallets:
		return decode[walletListData](body)
	case cmdCreateWallet:
		return decode[createWalletData](body)
	case cmdPurgeWallet:
		return decode[purgeWalletData](body)
	case cmdDerive:
		return decode[deriveData](body)
	case cmdReadPrimary:
		return decode[primaryCardData](body)
	case cmdLinkPrimary:
		return decode[backupCardData](body)
	case cmdLinkBackups:
		return decode[linkBackupsData](body)
	case cmdWriteBackup:
		return decode[writeBackupData](body)
	case cmdResetBackup:
		return decode[resetBackupData](body)
	case cmdCerts:
		return decode[certsData](body)
	case cmdCheck:
		return decode[checkData](body)
	default:
		return nil, errors.Errorf("incorrect command %q", cmd)
	}

}

var decMode, _ = cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()

func decode[T any](body []byte) (any, error) {

	var v T

	if err := decMode.Unmarshal(body, &v); err != nil {

		var e errorData

		if err := decMode.Unmarshal(body, &e); err != nil {
			return nil, errors.Wrap(err, "failed to decode response")
		}

		return e, &CardError{Code: e.Code, Message: e.Error}

	}

	return v, nil

}
