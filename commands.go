package cardwallet

// COMMANDS

const (
	cmdReadCard     = "read_card"
	cmdReadWallets  = "read_wallets"
	cmdCreateWallet = "create_wallet"
	cmdPurgeWallet  = "purge_wallet"
	cmdDerive       = "derive"
	cmdReadPrimary  = "read_primary"
	cmdLinkPrimary  = "link_primary"
	cmdLinkBackups  = "link_backups"
	cmdWriteBackup  = "write_backup"
	cmdResetBackup  = "reset_backup"
	cmdCerts        = "certs"
	cmdCheck        = "check"
)

// request is a single command sent to the card.
type request interface {
	name() string
}

// authenticatedRequest is a request that must carry the encrypted access code.
type authenticatedRequest interface {
	request
	setAuth(auth)
}

// codeChangingRequest carries a new access code encrypted with the session key
// of the same command.
type codeChangingRequest interface {
	authenticatedRequest
	encryptNewCode(sessionKey [32]byte) error
}

type command struct {
	Cmd string `cbor:"cmd"`
}

func (c command) name() string {
	return c.Cmd
}

type auth struct {
	EphemeralPubKey []byte `cbor:"epubkey"` // app's ephemeral public key
	XCVC            []byte `cbor:"xcvc"`    // encrypted access code hash
}

func (a *auth) setAuth(value auth) {
	*a = value
}

type newAccessCode struct {
	XCode    []byte `cbor:"xcode"` // encrypted new access code hash
	codeHash []byte
}

func (c *newAccessCode) encryptNewCode(sessionKey [32]byte) error {
	xcode, err := xor(c.codeHash, sessionKey[:])
	if err != nil {
		return err
	}
	c.XCode = xcode
	return nil
}

type readCardCommand struct {
	command
}

type readWalletsCommand struct {
	command
}

type createWalletCommand struct {
	command
	auth
	Curve      string `cbor:"curve"`
	PrivateKey []byte `cbor:"privkey,omitempty"`    // imported master key
	ChainCode  []byte `cbor:"chain_code,omitempty"` // imported master chain code
}

type purgeWalletCommand struct {
	command
	auth
	PublicKey []byte `cbor:"pubkey"`
}

type deriveCommand struct {
	command
	PublicKey []byte   `cbor:"pubkey"` // seed key of the wallet to derive from
	Paths     []string `cbor:"paths"`
}

type readPrimaryCommand struct {
	command
}

type linkPrimaryCommand struct {
	command
	Primary PrimaryCard `cbor:"primary"`
}

type linkBackupsCommand struct {
	command
	auth
	newAccessCode
	Backups []BackupCard `cbor:"backups"`
}

type writeBackupCommand struct {
	command
	auth
	newAccessCode
	Data []byte `cbor:"data"`
}

type resetBackupCommand struct {
	command
	auth
}

type certsCommand struct {
	command
}

type checkCommand struct {
	command
	Nonce []byte `cbor:"nonce"` // app nonce, 16 bytes
}
