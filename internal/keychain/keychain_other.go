//go:build !darwin

package keychain

import "fmt"

// NewSystemBackend reports ErrUnsupported on non-darwin platforms. The
// macOS Keychain is not available here; use the sqlite store instead.
func NewSystemBackend() (Backend, error) {
	return nil, fmt.Errorf("system keychain: %w", ErrUnsupported)
}
