//go:build !unix

package sqlitestore

// checkKeyFile is a no-op where unix ownership and modes do not apply.
func checkKeyFile(string) error {
	return nil
}
