// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of uncompressed blob bytes.
type Hash [32]byte

// blobDomainKey is the BLAKE3 keyed-hash domain for artifact blobs.
// Domain separation keeps blob hashes distinct from any other hash of
// the same bytes elsewhere in the system. The key is the ASCII domain
// name zero-padded to 32 bytes so it reads cleanly in hex dumps; the
// keyed mode treats it as an opaque value either way. Changing it
// invalidates every stored artifact ID.
var blobDomainKey = [32]byte{
	'a', 'e', 't', 'h', 'e', 'r', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
	'b', 'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// HashBlob computes the blob-domain hash of uncompressed data. This
// is the hash artifact IDs derive from and dedup keys on, so it is
// always computed before compression.
func HashBlob(data []byte) Hash {
	hasher, err := blake3.NewKeyed(blobDomainKey[:])
	if err != nil {
		// NewKeyed fails only on wrong key length; the array type
		// guarantees 32 bytes.
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// FormatHash returns the canonical hex encoding used in metadata,
// logs, and blob filenames.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing artifact hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("artifact hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}
