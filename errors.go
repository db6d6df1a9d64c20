package ncmdump

import (
	"errors"
	"fmt"

	"github.com/crmmc/ncmdump/ecb"
	"github.com/crmmc/ncmdump/keybox"
)

var (
	// ErrFormat is returned when the input does not start with the NCM magic.
	ErrFormat = errors.New("ncm: not an ncm container")
	// ErrTruncated matches any *TruncatedError.
	ErrTruncated = errors.New("ncm: truncated container")
	// ErrCipher is returned when the key blob cannot be decrypted.
	ErrCipher = ecb.ErrCipher
	// ErrInvalidSeed is returned when the decrypted key blob leaves no seed.
	ErrInvalidSeed = keybox.ErrInvalidSeed
)

// TruncatedError reports a field that extends past the end of the container.
type TruncatedError struct {
	State  string
	Offset int
	Need   uint64
	Have   int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("ncm: truncated container: %s at offset %d needs %d bytes, %d left",
		e.State, e.Offset, e.Need, e.Have)
}

// Is reports whether target is ErrTruncated.
func (e *TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}
