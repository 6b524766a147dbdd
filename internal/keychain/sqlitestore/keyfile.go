package sqlitestore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// KeySize is the length of a generated master key.
const KeySize = 32

// ErrInsecureKeyFile is returned when the master key file is readable by
// other users or owned by someone else.
var ErrInsecureKeyFile = errors.New("insecure master key file")

// LoadKey reads the master key at path, creating it with KeySize random
// bytes and mode 0600 if it does not exist.
func LoadKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		key, err = createKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	if err := checkKeyFile(path); err != nil {
		return nil, err
	}
	if len(key) < KeySize {
		return nil, fmt.Errorf("master key %s: want at least %d bytes, got %d", path, KeySize, len(key))
	}
	return key, nil
}

func createKey(path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, fs.ErrExist) {
		// Lost a race with another process; use its key.
		return os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return nil, err
	}
	return key, f.Close()
}
