// Package commit provides the keyed hashing that underpins every privacy
// feature of the settlement engine: entry and payout commitments, the
// direction one-time-pad cipher, merkle leaf hashes for the compression
// collaborator, and the view-key material for selective audit disclosure.
//
// All commitments are keccak-256 over the concatenation of raw byte fields in
// the order documented per function. Field order is part of the contract:
// reordering changes the commitment. The audit commitment alone uses MiMC so
// it stays cheap inside the compliance circuit.
package commit

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/crypto"
)

// Size is the fixed byte length of all commitments and ciphers.
const Size = 32

// directionPadLabel domain-separates the direction pad from the plain
// commitment, so publishing H(secret) reveals nothing about the pad.
var directionPadLabel = []byte("veilmarket/direction-pad/v1")

// NewSecret returns 32 bytes of cryptographically secure randomness.
func NewSecret() ([Size]byte, error) {
	var s [Size]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, err
	}
	return s, nil
}

// Commitment binds a secret: c = keccak256(secret).
func Commitment(secret [Size]byte) [Size]byte {
	return crypto.Keccak256Hash(secret[:])
}

// PayoutCommitment binds a secret, the literal recipient address, and a
// nonce: keccak256(secret ‖ recipient ‖ nonce_le). Because the recipient is
// inside the hash, a relayer submitting the claim cannot substitute a
// different payout destination without breaking the commitment.
func PayoutCommitment(secret [Size]byte, recipient string, nonce uint64) [Size]byte {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256Hash(secret[:], []byte(recipient), n[:])
}

// EncodeDirection produces the direction cipher d = plaintext ⊕ pad(secret).
// The pad is derived from the secret and never reused, so an observer holding
// (commitment, cipher) learns nothing about the direction beyond prior
// probability.
func EncodeDirection(yes bool, secret [Size]byte) [Size]byte {
	var plain [Size]byte
	if yes {
		plain[0] = 1
	}
	pad := directionPad(secret)
	var out [Size]byte
	for i := range out {
		out[i] = plain[i] ^ pad[i]
	}
	return out
}

// DecodeDirection recovers the direction from a cipher produced by
// EncodeDirection with the same secret. XOR is self-inverse, so
// DecodeDirection(EncodeDirection(d, s), s) == d for all inputs.
func DecodeDirection(cipher [Size]byte, secret [Size]byte) bool {
	pad := directionPad(secret)
	return (cipher[0]^pad[0])&1 == 1
}

func directionPad(secret [Size]byte) [Size]byte {
	return crypto.Keccak256Hash(directionPadLabel, secret[:])
}

// PositionLeaf is the canonical 32-byte merkle leaf consumed by the
// compression collaborator:
//
//	keccak256(marketID_le ‖ commitment ‖ encryptedDirection ‖ amount_le)
func PositionLeaf(marketID uint64, commitment, encryptedDirection [Size]byte, amount uint64) [Size]byte {
	var buf [8 + Size + Size + 8]byte
	binary.LittleEndian.PutUint64(buf[0:8], marketID)
	copy(buf[8:8+Size], commitment[:])
	copy(buf[8+Size:8+2*Size], encryptedDirection[:])
	binary.LittleEndian.PutUint64(buf[8+2*Size:], amount)
	return crypto.Keccak256Hash(buf[:])
}

// ViewKeyHash gates audit disclosure: a caller must present the preimage of
// this hash to decrypt position metadata.
func ViewKeyHash(viewKey [Size]byte) [Size]byte {
	return crypto.Keccak256Hash(viewKey[:])
}

// AuditCommitment binds a view key, an entry commitment, and an amount with
// MiMC over the BN254 scalar field, keeping the binding verifiable inside
// the compliance circuit. Inputs are reduced into field elements before
// hashing; the digest is a canonical 32-byte field element.
func AuditCommitment(viewKey, entryCommitment [Size]byte, amount uint64) [Size]byte {
	h := mimc.NewMiMC()
	h.Write(fieldBytes(viewKey[:]))
	h.Write(fieldBytes(entryCommitment[:]))
	var amt fr.Element
	amt.SetUint64(amount)
	h.Write(amt.Marshal())

	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func fieldBytes(b []byte) []byte {
	var e fr.Element
	e.SetBytes(b)
	return e.Marshal()
}

// SealMetadata encrypts an audit metadata blob under a view key using a
// chained-keccak keystream: mask₀ = keccak(viewKey), maskᵢ₊₁ = keccak(maskᵢ),
// ciphertext = plaintext ⊕ keystream.
func SealMetadata(viewKey [Size]byte, plaintext []byte) []byte {
	return xorKeystream(viewKey, plaintext)
}

// OpenMetadata decrypts a blob produced by SealMetadata with the same view
// key. The keystream XOR is self-inverse.
func OpenMetadata(viewKey [Size]byte, ciphertext []byte) []byte {
	return xorKeystream(viewKey, ciphertext)
}

func xorKeystream(key [Size]byte, data []byte) []byte {
	out := make([]byte, len(data))
	mask := crypto.Keccak256(key[:])
	for i := 0; i < len(data); i += Size {
		for j := 0; j < Size && i+j < len(data); j++ {
			out[i+j] = data[i+j] ^ mask[j]
		}
		mask = crypto.Keccak256(mask)
	}
	return out
}
