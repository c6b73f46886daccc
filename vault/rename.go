package vault

import (
	"os"

	"github.com/agenthq/relay/errors"
)

// ErrClaimLost is returned when a rename-or-fail move loses the race to
// another claimer (or the source record no longer exists).
var ErrClaimLost = errors.New("claim lost: record already moved")

// RenameOrFail moves src to dst, refusing to overwrite an existing dst.
// Implements the "atomic dequeue"/"atomic promotion" guarantee via a
// link-then-unlink sequence, since plain os.Rename on some platforms would
// silently clobber an existing destination.
func RenameOrFail(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if os.IsExist(err) {
			return ErrClaimLost
		}
		if os.IsNotExist(err) {
			return ErrClaimLost
		}
		return errors.Wrapf(err, "failed to link %s -> %s", src, dst)
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove source %s after link", src)
	}
	return nil
}
