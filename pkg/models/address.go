package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Address identifies a ledger party or a derived entity account.
// It is the hex encoding of 32 bytes.
type Address string

// Entity kind seeds for derived addresses.
const (
	KindConfig      = "panic_config"
	KindVault       = "vault"
	KindCompromised = "compromised"
	KindAttacker    = "attacker"
	KindAlert       = "alert"
)

// Derive computes the deterministic address of an entity from its kind and
// identity tuple using HKDF-SHA256. Any caller can independently derive the
// same address for the same logical entity without a directory lookup.
func Derive(kind string, parts ...Address) Address {
	seed := make([]byte, 0, len(parts)*36)
	for _, p := range parts {
		b, err := hex.DecodeString(string(p))
		if err != nil {
			// Non-hex identities still derive deterministically.
			b = []byte(p)
		}
		// Length-prefix each part so bytes cannot shift between adjacent
		// parts of differing lengths.
		seed = binary.BigEndian.AppendUint32(seed, uint32(len(b)))
		seed = append(seed, b...)
	}
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, seed, nil, []byte("duressvault/"+kind))
	if _, err := io.ReadFull(r, out); err != nil {
		panic("hkdf: " + err.Error())
	}
	return Address(hex.EncodeToString(out))
}
