//go:build unix

package sqlitestore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkKeyFile refuses key files owned by another user or open to group
// or world.
func checkKeyFile(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("stat master key: %w", err)
	}
	if int(st.Uid) != unix.Getuid() {
		return fmt.Errorf("%w: %s is owned by uid %d", ErrInsecureKeyFile, path, st.Uid)
	}
	if st.Mode&0o077 != 0 {
		return fmt.Errorf("%w: %s has mode %o", ErrInsecureKeyFile, path, st.Mode&0o777)
	}
	return nil
}
