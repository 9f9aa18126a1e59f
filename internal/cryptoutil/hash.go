package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// HashEqual performs constant-time comparison of two hex-encoded hashes.
// Policy is to always compare hashes this way, even where the values are not
// secret and timing is not a concern.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex computes the SHA-256 hash of data as a hex string
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ReadWithHash reads all bytes from r up to maxSize, computing SHA-256 as it
// reads. Returns the data, the hex-encoded hash, and any error.
func ReadWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	lr := io.LimitReader(r, maxSize+1)
	tr := io.TeeReader(lr, h)

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", &TooLargeError{Size: int64(len(data)), Limit: maxSize}
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// TooLargeError reports content that exceeded a read limit.
type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("content exceeds max size (%d bytes, limit %d)", e.Size, e.Limit)
}
