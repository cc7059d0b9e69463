// Package crypto is the client-side envelope for keyledger payloads: AES-GCM
// sealing of file content and metadata, passphrase wrapping of file keys, and
// a word encoding for identity seeds. The server never sees plaintext.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32 // 256 bits
	saltLen      = 32
)

// DeriveKey stretches a passphrase into a 256-bit wrapping key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

func GenerateSalt() []byte {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return salt
}
