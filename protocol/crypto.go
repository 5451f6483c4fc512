package protocol

import (
	crand "crypto/rand"
	mrand "math/rand"
	"time"
)

// GenerateKey returns a fresh cryptographically random 128-bit key,
// suitable as an ephemeral update_key (spec §4.E) or a per-server
// pairing key minted during discovery commit. Falls back to a seeded
// math/rand source if crypto/rand is unavailable (rare on host).
func GenerateKey() [16]byte {
	var k [16]byte
	if _, err := crand.Read(k[:]); err == nil {
		return k
	}
	src := mrand.NewSource(time.Now().UnixNano())
	r := mrand.New(src)
	for i := range k {
		k[i] = byte(r.Intn(256))
	}
	return k
}

// ZeroKey overwrites key material in place. Callers must zero key
// bytes on teardown per the server's ownership contract.
func ZeroKey(key *[16]byte) {
	for i := range key {
		key[i] = 0
	}
}
