package hash

import (
	"fmt"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C is the per-bundle checksum stored in index rows.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// ChecksumError reports a bundle whose bytes no longer match its CRC32C.
type ChecksumError struct {
	Want, Got uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("hash: crc32c %08x, want %08x", e.Got, e.Want)
}

// CheckCRC32C returns a *ChecksumError when data does not hash to want.
func CheckCRC32C(data []byte, want uint32) error {
	if got := CRC32C(data); got != want {
		return &ChecksumError{Want: want, Got: got}
	}
	return nil
}
