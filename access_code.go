package cardwallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// AccessCodeRepository remembers the access codes of cards by card id.
type AccessCodeRepository interface {
	Get(cardID string) (code string, ok bool, err error)
	Save(cardIDs []string, code string) error
	Delete(cardIDs ...string) error
}

// MemoryAccessCodeRepository keeps access codes in memory.
type MemoryAccessCodeRepository struct {
	mu    sync.RWMutex
	codes map[string]string
}

func NewMemoryAccessCodeRepository() *MemoryAccessCodeRepository {
	return &MemoryAccessCodeRepository{codes: map[string]string{}}
}

func (repository *MemoryAccessCodeRepository) Get(cardID string) (string, bool, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()
	code, ok := repository.codes[cardID]
	return code, ok, nil
}

func (repository *MemoryAccessCodeRepository) Save(cardIDs []string, code string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	for _, cardID := range cardIDs {
		repository.codes[cardID] = code
	}
	return nil
}

func (repository *MemoryAccessCodeRepository) Delete(cardIDs ...string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	for _, cardID := range cardIDs {
		delete(repository.codes, cardID)
	}
	return nil
}

// ScryptParams are the key derivation parameters of the keystore file.
type ScryptParams struct {
	N     int
	R     int
	P     int
	DKLen int
}

// DefaultScryptParams matches the keystore v3 defaults.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 262144, R: 8, P: 1, DKLen: 32}
}

type keystoreFile struct {
	Version int                      `json:"version"`
	ID      string                   `json:"id"`
	Entries map[string]keystoreEntry `json:"entries"`
}

type keystoreEntry struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Cipher     string `json:"cipher"`
	KDF        string `json:"kdf"`
	KDFParams  struct {
		DKLen int    `json:"dklen"`
		Salt  string `json:"salt"`
		N     int    `json:"n"`
		R     int    `json:"r"`
		P     int    `json:"p"`
	} `json:"kdfparams"`
	MAC string `json:"mac"`
}

// FileAccessCodeRepository stores access codes in a JSON keystore file, each
// code encrypted with AES-128-CTR under a scrypt key derived from password.
type FileAccessCodeRepository struct {
	path     string
	password string
	params   ScryptParams

	mu sync.Mutex
}

func NewFileAccessCodeRepository(path, password string, params ScryptParams) *FileAccessCodeRepository {
	return &FileAccessCodeRepository{path: path, password: password, params: params}
}

func (repository *FileAccessCodeRepository) Get(cardID string) (string, bool, error) {

	repository.mu.Lock()
	defer repository.mu.Unlock()

	file, err := repository.load()
	if err != nil {
		return "", false, err
	}

	entry, ok := file.Entries[cardID]
	if !ok {
		return "", false, nil
	}

	code, err := repository.decrypt(entry)
	if err != nil {
		return "", false, errors.Wrapf(err, "card %s", cardID)
	}

	return code, true, nil
}

func (repository *FileAccessCodeRepository) Save(cardIDs []string, code string) error {

	repository.mu.Lock()
	defer repository.mu.Unlock()

	file, err := repository.load()
	if err != nil {
		return err
	}

	for _, cardID := range cardIDs {
		entry, err := repository.encrypt(code)
		if err != nil {
			return err
		}
		file.Entries[cardID] = entry
	}

	return repository.store(file)
}

func (repository *FileAccessCodeRepository) Delete(cardIDs ...string) error {

	repository.mu.Lock()
	defer repository.mu.Unlock()

	file, err := repository.load()
	if err != nil {
		return err
	}

	for _, cardID := range cardIDs {
		delete(file.Entries, cardID)
	}

	return repository.store(file)
}

func (repository *FileAccessCodeRepository) load() (*keystoreFile, error) {

	raw, err := os.ReadFile(repository.path)
	if errors.Is(err, os.ErrNotExist) {
		return &keystoreFile{Version: 3, ID: uuid.New().String(), Entries: map[string]keystoreEntry{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read keystore")
	}

	var file keystoreFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode keystore")
	}
	if file.Entries == nil {
		file.Entries = map[string]keystoreEntry{}
	}

	return &file, nil
}

func (repository *FileAccessCodeRepository) store(file *keystoreFile) error {

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode keystore")
	}

	if err := os.MkdirAll(filepath.Dir(repository.path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create keystore directory")
	}

	tmp := repository.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "failed to write keystore")
	}

	return errors.Wrap(os.Rename(tmp, repository.path), "failed to replace keystore")
}

func (repository *FileAccessCodeRepository) encrypt(code string) (keystoreEntry, error) {

	var entry keystoreEntry

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return entry, errors.Wrap(err, "failed to generate salt")
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return entry, errors.Wrap(err, "failed to generate IV")
	}

	params := repository.params
	derivedKey, err := scrypt.Key([]byte(repository.password), salt, params.N, params.R, params.P, params.DKLen)
	if err != nil {
		return entry, errors.Wrap(err, "failed to derive key")
	}

	ciphertext, err := aes128CTR(derivedKey[:16], iv, []byte(code))
	if err != nil {
		return entry, err
	}

	entry.Ciphertext = hex.EncodeToString(ciphertext)
	entry.IV = hex.EncodeToString(iv)
	entry.Cipher = "aes-128-ctr"
	entry.KDF = "scrypt"
	entry.KDFParams.DKLen = params.DKLen
	entry.KDFParams.Salt = hex.EncodeToString(salt)
	entry.KDFParams.N = params.N
	entry.KDFParams.R = params.R
	entry.KDFParams.P = params.P
	entry.MAC = hex.EncodeToString(keystoreMAC(derivedKey[16:32], ciphertext))

	return entry, nil
}

func (repository *FileAccessCodeRepository) decrypt(entry keystoreEntry) (string, error) {

	salt, err := hex.DecodeString(entry.KDFParams.Salt)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode salt")
	}
	iv, err := hex.DecodeString(entry.IV)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode IV")
	}
	ciphertext, err := hex.DecodeString(entry.Ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode ciphertext")
	}
	expectedMAC, err := hex.DecodeString(entry.MAC)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode MAC")
	}

	derivedKey, err := scrypt.Key([]byte(repository.password), salt, entry.KDFParams.N, entry.KDFParams.R, entry.KDFParams.P, entry.KDFParams.DKLen)
	if err != nil {
		return "", errors.Wrap(err, "failed to derive key")
	}

	if !hmac.Equal(keystoreMAC(derivedKey[16:32], ciphertext), expectedMAC) {
		return "", errors.Wrap(ErrInvalidAccessCode, "keystore password: MAC mismatch")
	}

	plaintext, err := aes128CTR(derivedKey[:16], iv, ciphertext)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// aes128CTR encrypts and decrypts alike.
func aes128CTR(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

func keystoreMAC(key, ciphertext []byte) []byte {
	hasher := sha256.New()
	hasher.Write(key)
	hasher.Write(ciphertext)
	return hasher.Sum(nil)
}
