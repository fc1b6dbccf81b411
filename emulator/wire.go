package emulator

// Requests arrive as one CBOR map; only the fields of the named command are
// set.
type request struct {
	Cmd             string        `cbor:"cmd"`
	EphemeralPubKey []byte        `cbor:"epubkey"`
	XCVC            []byte        `cbor:"xcvc"`
	Curve           string        `cbor:"curve"`
	PrivateKey      []byte        `cbor:"privkey"`
	ChainCode       []byte        `cbor:"chain_code"`
	PublicKey       []byte        `cbor:"pubkey"`
	Paths           []string      `cbor:"paths"`
	Primary         *primaryToken `cbor:"primary"`
	Backups         []backupToken `cbor:"backups"`
	XCode           []byte        `cbor:"xcode"`
	Data            []byte        `cbor:"data"`
	Nonce           []byte        `cbor:"nonce"`
}

type nonceResponse struct {
	CardNonce []byte `cbor:"card_nonce"`
}

type settingsResponse struct {
	HD     bool `cbor:"hd"`
	Backup bool `cbor:"backup"`
	Import bool `cbor:"import"`
}

type walletResponse struct {
	PublicKey  []byte `cbor:"pubkey"`
	Curve      string `cbor:"curve"`
	ChainCode  []byte `cbor:"chain_code,omitempty"`
	IsImported bool   `cbor:"imported"`
}

type readCardResponse struct {
	CardNonce     []byte           `cbor:"card_nonce"`
	CardID        string           `cbor:"card_id"`
	CardPublicKey []byte           `cbor:"card_pubkey"`
	BatchID       string           `cbor:"batch"`
	Version       string           `cbor:"ver"`
	Settings      settingsResponse `cbor:"settings"`
	BackupStatus  string           `cbor:"backup_status"`
	AccessCodeSet bool             `cbor:"access_code_set"`
	Wallets       []walletResponse `cbor:"wallets"`
}

type walletListResponse struct {
	CardNonce []byte           `cbor:"card_nonce"`
	Wallets   []walletResponse `cbor:"wallets"`
}

type createWalletResponse struct {
	CardNonce []byte         `cbor:"card_nonce"`
	Wallet    walletResponse `cbor:"wallet"`
}

type derivedKeyResponse struct {
	Path      string `cbor:"path"`
	PublicKey []byte `cbor:"pubkey"`
	ChainCode []byte `cbor:"chain_code"`
}

type deriveResponse struct {
	CardNonce []byte               `cbor:"card_nonce"`
	Keys      []derivedKeyResponse `cbor:"keys"`
}

type primaryToken struct {
	CardID               string   `cbor:"card_id"`
	CardPublicKey        []byte   `cbor:"card_pubkey"`
	LinkingKey           []byte   `cbor:"linking_key"`
	ExistingWalletsCount int      `cbor:"wallets"`
	IsHDWalletAllowed    bool     `cbor:"hd"`
	IsBackupAllowed      bool     `cbor:"backup"`
	IsKeysImportAllowed  bool     `cbor:"import"`
	BatchID              string   `cbor:"batch"`
	Version              string   `cbor:"ver"`
	WalletCurves         []string `cbor:"curves"`
}

type backupToken struct {
	CardID        string `cbor:"card_id"`
	CardPublicKey []byte `cbor:"card_pubkey"`
	LinkingKey    []byte `cbor:"linking_key"`
}

type readPrimaryResponse struct {
	CardNonce []byte       `cbor:"card_nonce"`
	Primary   primaryToken `cbor:"primary"`
}

type linkPrimaryResponse struct {
	CardNonce []byte      `cbor:"card_nonce"`
	Backup    backupToken `cbor:"backup"`
}

type backupPayload struct {
	CardID string `cbor:"card_id"`
	Data   []byte `cbor:"data"`
}

type linkBackupsResponse struct {
	CardNonce []byte          `cbor:"card_nonce"`
	Backups   []backupPayload `cbor:"backups"`
}

type writeBackupResponse struct {
	CardNonce    []byte           `cbor:"card_nonce"`
	BackupStatus string           `cbor:"backup_status"`
	Wallets      []walletResponse `cbor:"wallets"`
}

type backupStatusResponse struct {
	CardNonce    []byte `cbor:"card_nonce"`
	BackupStatus string `cbor:"backup_status"`
}

type certsResponse struct {
	CardNonce        []byte   `cbor:"card_nonce"`
	CertificateChain [][]byte `cbor:"cert_chain"`
}

type checkResponse struct {
	CardNonce     []byte `cbor:"card_nonce"`
	AuthSignature []byte `cbor:"auth_sig"`
}

type errorResponse struct {
	CardNonce []byte `cbor:"card_nonce"`
	Code      int    `cbor:"code"`
	Error     string `cbor:"error"`
}

// backupWallet is one wallet inside an encrypted backup payload.
type backupWallet struct {
	Curve      string `cbor:"curve"`
	PrivateKey []byte `cbor:"privkey"`
	ChainCode  []byte `cbor:"chain_code,omitempty"`
}
