package manifest

import (
	"encoding/hex"

	"github.com/spaolacci/murmur3"
)

// Checksum returns the hex murmur3-128 digest of an artifact's bytes.
func Checksum(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(h1 >> (56 - 8*i))
		buf[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}
