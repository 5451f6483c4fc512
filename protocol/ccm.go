package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// AES-CCM (RFC 3610) with M=4 (4-byte MIC) and L=2 (13-byte nonce),
// hand-rolled from crypto/aes + crypto/cipher primitives. No example in
// the retrieval pack, nor a commonly reached-for ecosystem package,
// implements CCM mode (the standard library only ships GCM) — see
// DESIGN.md for the justification of this standard-library build.
const (
	ccmM         = 4  // MIC size in bytes
	ccmL         = 2  // length-field size in bytes
	ccmNonceSize = 15 - ccmL
	ccmBlockSize = 16
)

func sealCCM(key [16]byte, nonce [ccmNonceSize]byte, associatedData, plaintext []byte) ([]byte, error) {
	if len(plaintext) > 0xFFFF {
		return nil, fmt.Errorf("protocol: plaintext too long for CCM L=%d", ccmL)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	tag := cbcMAC(block, nonce, associatedData, plaintext)

	s0 := make([]byte, ccmBlockSize)
	block.Encrypt(s0, counterBlock(nonce, 0))
	for i := 0; i < ccmM; i++ {
		tag[i] ^= s0[i]
	}

	ciphertext := make([]byte, len(plaintext))
	if len(plaintext) > 0 {
		stream := cipher.NewCTR(block, counterBlock(nonce, 1))
		stream.XORKeyStream(ciphertext, plaintext)
	}

	out := make([]byte, 0, len(ciphertext)+ccmM)
	out = append(out, ciphertext...)
	out = append(out, tag[:ccmM]...)
	return out, nil
}

func openCCM(key [16]byte, nonce [ccmNonceSize]byte, associatedData, sealed []byte) ([]byte, error) {
	if len(sealed) < ccmM {
		return nil, ErrBadMic
	}
	ciphertext := sealed[:len(sealed)-ccmM]
	gotTag := sealed[len(sealed)-ccmM:]

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	if len(ciphertext) > 0 {
		stream := cipher.NewCTR(block, counterBlock(nonce, 1))
		stream.XORKeyStream(plaintext, ciphertext)
	}

	tag := cbcMAC(block, nonce, associatedData, plaintext)
	s0 := make([]byte, ccmBlockSize)
	block.Encrypt(s0, counterBlock(nonce, 0))
	for i := 0; i < ccmM; i++ {
		tag[i] ^= s0[i]
	}

	if subtle.ConstantTimeCompare(tag[:ccmM], gotTag) != 1 {
		return nil, ErrBadMic
	}
	return plaintext, nil
}

// cbcMAC computes the RFC 3610 CBC-MAC over B0, the associated data
// block(s) and the plaintext block(s), returning the full 16-byte tag
// (callers truncate to ccmM and XOR with S0).
func cbcMAC(block cipher.Block, nonce [ccmNonceSize]byte, associatedData, plaintext []byte) []byte {
	mac := make([]byte, ccmBlockSize)
	block.Encrypt(mac, formatB0(nonce, len(associatedData) > 0, len(plaintext)))

	if len(associatedData) > 0 {
		lenField := make([]byte, 2)
		binary.BigEndian.PutUint16(lenField, uint16(len(associatedData)))
		buf := padTo16(append(lenField, associatedData...))
		chainMAC(block, mac, buf)
	}
	if len(plaintext) > 0 {
		chainMAC(block, mac, padTo16(plaintext))
	}
	return mac
}

func chainMAC(block cipher.Block, mac []byte, padded []byte) {
	for i := 0; i < len(padded); i += ccmBlockSize {
		xorInto(mac, padded[i:i+ccmBlockSize])
		block.Encrypt(mac, mac)
	}
}

// formatB0 builds the initial CBC-MAC block per RFC 3610 §2.2.
func formatB0(nonce [ccmNonceSize]byte, hasAD bool, plaintextLen int) []byte {
	b0 := make([]byte, ccmBlockSize)
	var flags byte
	if hasAD {
		flags |= 0x40
	}
	flags |= byte((ccmM - 2) / 2 << 3)
	flags |= byte(ccmL - 1)
	b0[0] = flags
	copy(b0[1:1+ccmNonceSize], nonce[:])
	binary.BigEndian.PutUint16(b0[1+ccmNonceSize:], uint16(plaintextLen))
	return b0
}

// counterBlock builds the A_i counter block used both to mask the MIC
// (i=0) and as the CTR-mode IV for the payload (i=1, auto-incrementing
// per 16-byte block thereafter — crypto/cipher's CTR increments the
// trailing bytes of the IV exactly the way RFC 3610 increments the
// counter field, so one cipher.NewCTR call covers every payload block).
func counterBlock(nonce [ccmNonceSize]byte, counter uint16) []byte {
	a := make([]byte, ccmBlockSize)
	a[0] = byte(ccmL - 1)
	copy(a[1:1+ccmNonceSize], nonce[:])
	binary.BigEndian.PutUint16(a[1+ccmNonceSize:], counter)
	return a
}

func padTo16(b []byte) []byte {
	if rem := len(b) % ccmBlockSize; rem != 0 {
		b = append(b, make([]byte, ccmBlockSize-rem)...)
	}
	return b
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
