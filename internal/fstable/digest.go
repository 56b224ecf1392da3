package fstable

import (
	"cmp"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
)

// A DigestAlgorithm identifies how content digests are computed.
type DigestAlgorithm string

// Digest algorithms.
const (
	// BLAKE3 digests are the first 128 bits of the BLAKE3 output.
	BLAKE3 DigestAlgorithm = "blake3"
	// XXH3 digests are 128-bit XXH3 hashes. They are fast but not
	// cryptographic.
	XXH3 DigestAlgorithm = "xxh3"
)

// DefaultDigestAlgorithm is the default digest algorithm.
const DefaultDigestAlgorithm = BLAKE3

// ParseDigestAlgorithm parses s as a DigestAlgorithm.
func ParseDigestAlgorithm(s string) (DigestAlgorithm, error) {
	switch algorithm := DigestAlgorithm(s); algorithm {
	case BLAKE3, XXH3:
		return algorithm, nil
	default:
		return "", fmt.Errorf("%s: unknown digest algorithm", s)
	}
}

// A Digest is a 128-bit content fingerprint. The zero Digest means that no
// digest has been computed. A computed digest is never zero.
type Digest struct {
	Hi uint64
	Lo uint64
}

// IsZero returns whether d is the zero Digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Compare returns -1, 0, or +1 depending on whether d is less than, equal
// to, or greater than other.
func (d Digest) Compare(other Digest) int {
	if c := cmp.Compare(d.Hi, other.Hi); c != 0 {
		return c
	}
	return cmp.Compare(d.Lo, other.Lo)
}

// Bytes returns d in big-endian byte order.
func (d Digest) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], d.Hi)
	binary.BigEndian.PutUint64(b[8:], d.Lo)
	return b
}

// String returns d as a lowercase hex string.
func (d Digest) String() string {
	b := d.Bytes()
	return hex.EncodeToString(b[:])
}

// ContentDigest returns the digest of data.
func ContentDigest(algorithm DigestAlgorithm, data []byte) Digest {
	switch algorithm {
	case XXH3:
		return digestFromUint128(xxh3.Hash128(data))
	default:
		sum := blake3.Sum256(data)
		return mustBeNonZero(digestFromBytes(sum[:16]))
	}
}

// FileDigest returns the digest of the contents of the file at path and the
// number of bytes hashed.
func FileDigest(algorithm DigestAlgorithm, path string) (Digest, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, err
	}
	defer file.Close()
	switch algorithm {
	case XXH3:
		hash := xxh3.New()
		written, err := io.Copy(hash, file)
		if err != nil {
			return Digest{}, written, err
		}
		return digestFromUint128(hash.Sum128()), written, nil
	default:
		hash := blake3.New()
		written, err := io.Copy(hash, file)
		if err != nil {
			return Digest{}, written, err
		}
		sum := hash.Sum(nil)
		return mustBeNonZero(digestFromBytes(sum[:16])), written, nil
	}
}

func digestFromBytes(b []byte) Digest {
	return Digest{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

func digestFromUint128(u xxh3.Uint128) Digest {
	return mustBeNonZero(Digest{Hi: u.Hi, Lo: u.Lo})
}

// mustBeNonZero returns d, panicking if d is zero. A zero digest would be
// indistinguishable from a missing one.
func mustBeNonZero(d Digest) Digest {
	if d.IsZero() {
		panic("fstable: computed zero digest")
	}
	return d
}
