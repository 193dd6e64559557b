package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	return HashBytes([]byte(input))
}

// HashBytes fingerprints a serialized collection; used as its version tag.
func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return fmt.Sprintf("%x", hash)
}
