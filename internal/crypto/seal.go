package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

const (
	aesNonceLen = 12
	fileKeyLen  = 32
)

// Field tags are folded into the last IV byte so every payload field is
// sealed under a distinct nonce.
const (
	tagContent byte = iota
	tagName
	tagFolder
	tagKind
)

// ErrWrongKey is returned when a payload or wrapped key fails to open.
var ErrWrongKey = errors.New("wrong key or corrupted data")

// Plaintext is what a client seals into a registry.Payload.
type Plaintext struct {
	Content []byte
	Name    string
	Folder  string
	Kind    string
}

// NewFileKey returns a random 256-bit file key.
func NewFileKey() ([]byte, error) {
	key := make([]byte, fileKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate file key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

func fieldNonce(iv []byte, tag byte) []byte {
	n := append([]byte(nil), iv...)
	n[len(n)-1] ^= tag
	return n
}

// SealPayload encrypts pt under fileKey with a fresh IV.
func SealPayload(fileKey []byte, pt Plaintext) (registry.Payload, error) {
	gcm, err := newGCM(fileKey)
	if err != nil {
		return registry.Payload{}, err
	}
	iv := make([]byte, aesNonceLen)
	if _, err := rand.Read(iv); err != nil {
		return registry.Payload{}, fmt.Errorf("generate iv: %w", err)
	}
	return registry.Payload{
		Ciphertext:      gcm.Seal(nil, fieldNonce(iv, tagContent), pt.Content, nil),
		EncryptedName:   gcm.Seal(nil, fieldNonce(iv, tagName), []byte(pt.Name), nil),
		EncryptedFolder: gcm.Seal(nil, fieldNonce(iv, tagFolder), []byte(pt.Folder), nil),
		EncryptedKind:   gcm.Seal(nil, fieldNonce(iv, tagKind), []byte(pt.Kind), nil),
		IV:              iv,
	}, nil
}

// OpenPayload reverses SealPayload.
func OpenPayload(fileKey []byte, p registry.Payload) (*Plaintext, error) {
	if len(p.IV) != aesNonceLen {
		return nil, fmt.Errorf("invalid iv length %d", len(p.IV))
	}
	gcm, err := newGCM(fileKey)
	if err != nil {
		return nil, err
	}
	open := func(ct []byte, tag byte) ([]byte, error) {
		pt, err := gcm.Open(nil, fieldNonce(p.IV, tag), ct, nil)
		if err != nil {
			return nil, ErrWrongKey
		}
		return pt, nil
	}

	content, err := open(p.Ciphertext, tagContent)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	name, err := open(p.EncryptedName, tagName)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	folder, err := open(p.EncryptedFolder, tagFolder)
	if err != nil {
		return nil, fmt.Errorf("folder: %w", err)
	}
	kind, err := open(p.EncryptedKind, tagKind)
	if err != nil {
		return nil, fmt.Errorf("kind: %w", err)
	}
	return &Plaintext{Content: content, Name: string(name), Folder: string(folder), Kind: string(kind)}, nil
}

// WrapKey seals fileKey under a passphrase. The result is
// salt || nonce || ciphertext.
func WrapKey(fileKey []byte, passphrase string) ([]byte, error) {
	salt := GenerateSalt()
	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := append(salt, nonce...)
	return gcm.Seal(out, nonce, fileKey, nil), nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(wrapped []byte, passphrase string) ([]byte, error) {
	if len(wrapped) < saltLen+aesNonceLen {
		return nil, fmt.Errorf("wrapped key too short")
	}
	salt := wrapped[:saltLen]
	nonce := wrapped[saltLen : saltLen+aesNonceLen]
	gcm, err := newGCM(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	key, err := gcm.Open(nil, nonce, wrapped[saltLen+aesNonceLen:], nil)
	if err != nil {
		return nil, ErrWrongKey
	}
	return key, nil
}
