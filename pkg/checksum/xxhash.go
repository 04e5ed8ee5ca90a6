package checksum

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Bytes returns the hex xxhash digest of an in-memory archive.
func Bytes(data []byte) string {
	digest := xxhash.New()
	digest.Write(data)
	return hex.EncodeToString(digest.Sum(nil))
}
