package registry

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Identity is an externally verified caller identifier. Over HTTP it is the
// lowercase hex encoding of the caller's Ed25519 public key.
type Identity string

// Validate reports whether id is usable as a caller or grantee. Only the
// lowercase spelling is accepted, so one key maps to exactly one identity.
func (id Identity) Validate() error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return fmt.Errorf("%w: %q is not hex", ErrInvalidIdentity, string(id))
	}
	if strings.ToLower(string(id)) != string(id) {
		return fmt.Errorf("%w: %q is not lowercase", ErrInvalidIdentity, string(id))
	}
	return nil
}

// Payload is the encrypted content a client deposits with AddFile.
type Payload struct {
	Ciphertext      []byte `json:"ciphertext"`
	EncryptedName   []byte `json:"encrypted_name"`
	EncryptedFolder []byte `json:"encrypted_folder"`
	EncryptedKind   []byte `json:"encrypted_kind"`
	IV              []byte `json:"iv"`
}

// lengths returns the billed field lengths in a fixed order.
func (p Payload) lengths() []int {
	return []int{
		len(p.Ciphertext),
		len(p.EncryptedName),
		len(p.EncryptedFolder),
		len(p.EncryptedKind),
		len(p.IV),
	}
}

// Size is the total number of billed payload bytes.
func (p Payload) Size() int {
	n := 0
	for _, l := range p.lengths() {
		n += l
	}
	return n
}

func (p Payload) clone() Payload {
	return Payload{
		Ciphertext:      copyBytes(p.Ciphertext),
		EncryptedName:   copyBytes(p.EncryptedName),
		EncryptedFolder: copyBytes(p.EncryptedFolder),
		EncryptedKind:   copyBytes(p.EncryptedKind),
		IV:              copyBytes(p.IV),
	}
}

// File is one entry of the append-only file arena.
type File struct {
	Index uint64 `json:"index"`
	Payload
	Digest        [32]byte   `json:"-"`
	CreatedAt     int64      `json:"created_at"`
	Sequence      uint64     `json:"sequence"`
	AccessHolders []Identity `json:"access_holders"`
}

func (f *File) clone() *File {
	c := *f
	c.Payload = f.Payload.clone()
	c.AccessHolders = append([]Identity(nil), f.AccessHolders...)
	return &c
}

// AccessKey records that a wrapped key for FileIndex was handed to the
// identity whose list holds it.
type AccessKey struct {
	Grantor    Identity `json:"grantor"`
	FileIndex  uint64   `json:"file_index"`
	WrappedKey []byte   `json:"wrapped_key"`
	Sequence   uint64   `json:"sequence"`
}

// AdminConfig holds the owner and the fee parameters.
type AdminConfig struct {
	Owner              Identity `json:"owner" yaml:"owner"`
	BaseFee            uint64   `json:"base_fee" yaml:"base_fee"`
	BytesFeeMultiplier uint64   `json:"bytes_fee_multiplier" yaml:"bytes_fee_multiplier"`
	GrantFee           uint64   `json:"grant_fee" yaml:"grant_fee"`
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
