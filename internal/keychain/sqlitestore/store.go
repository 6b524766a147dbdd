// Package sqlitestore provides a persistent keychain.Backend on SQLite for
// hosts without a system keychain. Values are sealed with
// XChaCha20-Poly1305 under a key derived from caller-supplied key material;
// attributes (service, access group, key) are stored in the clear so that
// queries can match on them.
package sqlitestore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/benaskins/keystash/internal/keychain"
	"github.com/benaskins/keystash/internal/keychain/sqlitestore/migrations"
	"github.com/benaskins/keystash/internal/platform/sqlitemigrate"
)

const sealInfo = "keystash entry seal v1"

// Store persists keychain entries in SQLite.
type Store struct {
	sqlDB *sql.DB
	aead  cipher.AEAD
	now   func() time.Time
}

// Open opens (or creates) a store at path and applies embedded migrations.
// keyMaterial must be at least 32 bytes; see LoadKey.
func Open(path string, keyMaterial []byte) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, aead: aead, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	if len(keyMaterial) < chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key material must be at least %d bytes", chacha20poly1305.KeySize)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, keyMaterial, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

// aad binds a sealed value to the entry identity so ciphertext cannot be
// moved between rows.
func aad(class keychain.EntryClass, service, group string, account []byte) []byte {
	out := fmt.Appendf(nil, "%d\x00%s\x00%s\x00", class, service, group)
	return append(out, account...)
}

func (s *Store) seal(plain, ad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, ad), nil
}

func (s *Store) open(sealed, ad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("%w: sealed value truncated", keychain.ErrLocked)
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], ad)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot unseal entry", keychain.ErrLocked)
	}
	return plain, nil
}

// where builds the filter for q. Zero-valued fields are wildcards unless
// q.ExactGroup pins the access group.
func where(q keychain.Query) (string, []any) {
	var clauses []string
	var args []any
	if q.Class != keychain.ClassAny {
		clauses = append(clauses, "class = ?")
		args = append(args, int(q.Class))
	}
	if q.Service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, q.Service)
	}
	if q.ExactGroup || q.AccessGroup != "" {
		clauses = append(clauses, "access_group = ?")
		args = append(args, q.AccessGroup)
	}
	if q.Account != nil {
		clauses = append(clauses, "account = ?")
		args = append(args, q.Account)
	}
	if q.Accessibility != keychain.AccessibleUnspecified {
		clauses = append(clauses, "accessibility = ?")
		args = append(args, q.Accessibility.AttrValue())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) Add(item keychain.Item) error {
	sealed, err := s.seal(item.Data, aad(item.Class, item.Service, item.AccessGroup, item.Account))
	if err != nil {
		return err
	}
	now := s.now().UTC().UnixMilli()
	_, err = s.sqlDB.Exec(
		`INSERT INTO entries (
		   class, service, access_group, account, generic,
		   accessibility, sealed, ref, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(item.Class),
		item.Service,
		item.AccessGroup,
		item.Account,
		item.Generic,
		item.Accessibility.AttrValue(),
		sealed,
		uuid.NewString(),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", keychain.ErrDuplicate, item.Account)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Store) CopyMatching(q keychain.Query) ([]keychain.Match, error) {
	filter, args := where(q)
	query := `SELECT class, service, access_group, account, accessibility, sealed, ref
	          FROM entries` + filter + ` ORDER BY id`
	if q.Limit == keychain.LimitOne {
		query += " LIMIT 1"
	}

	rows, err := s.sqlDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var matches []keychain.Match
	for rows.Next() {
		var (
			class  int
			attr   string
			sealed []byte
			ref    string
			m      keychain.Match
		)
		if err := rows.Scan(&class, &m.Service, &m.AccessGroup, &m.Account, &attr, &sealed, &ref); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		m.Class = keychain.EntryClass(class)
		// Unknown attribute values surface as unspecified.
		m.Accessibility, _ = keychain.AccessibilityForAttrValue(attr)

		switch q.Return {
		case keychain.ReturnData:
			plain, err := s.open(sealed, aad(m.Class, m.Service, m.AccessGroup, m.Account))
			if err != nil {
				return nil, err
			}
			m.Data = plain
		case keychain.ReturnPersistentRef:
			m.Ref = []byte(ref)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	if len(matches) == 0 {
		return nil, keychain.ErrNotFound
	}
	return matches, nil
}

type rowIdentity struct {
	id      int64
	class   keychain.EntryClass
	service string
	group   string
	account []byte
}

// Update reseals each matching row individually because the AAD differs
// per row.
func (s *Store) Update(q keychain.Query, attrs keychain.Update) error {
	tx, err := s.sqlDB.Begin()
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	filter, args := where(q)
	rows, err := tx.Query(`SELECT id, class, service, access_group, account FROM entries`+filter, args...)
	if err != nil {
		return fmt.Errorf("select for update: %w", err)
	}
	var targets []rowIdentity
	for rows.Next() {
		var r rowIdentity
		var class int
		if err := rows.Scan(&r.id, &class, &r.service, &r.group, &r.account); err != nil {
			rows.Close()
			return fmt.Errorf("scan for update: %w", err)
		}
		r.class = keychain.EntryClass(class)
		targets = append(targets, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate for update: %w", err)
	}
	if len(targets) == 0 {
		return keychain.ErrNotFound
	}

	now := s.now().UTC().UnixMilli()
	for _, r := range targets {
		sealed, err := s.seal(attrs.Data, aad(r.class, r.service, r.group, r.account))
		if err != nil {
			return err
		}
		if attrs.Accessibility != keychain.AccessibleUnspecified {
			_, err = tx.Exec(`UPDATE entries SET sealed = ?, accessibility = ?, updated_at = ? WHERE id = ?`,
				sealed, attrs.Accessibility.AttrValue(), now, r.id)
		} else {
			_, err = tx.Exec(`UPDATE entries SET sealed = ?, updated_at = ? WHERE id = ?`,
				sealed, now, r.id)
		}
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func (s *Store) Delete(q keychain.Query) error {
	filter, args := where(q)
	res, err := s.sqlDB.Exec(`DELETE FROM entries`+filter, args...)
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if n == 0 {
		return keychain.ErrNotFound
	}
	return nil
}

// Timestamps reports when the entry matching q was created and last
// modified.
func (s *Store) Timestamps(q keychain.Query) (created, modified time.Time, err error) {
	filter, args := where(q)
	var c, m int64
	err = s.sqlDB.QueryRow(`SELECT created_at, updated_at FROM entries`+filter+` ORDER BY id LIMIT 1`, args...).Scan(&c, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, time.Time{}, keychain.ErrNotFound
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("query timestamps: %w", err)
	}
	return time.UnixMilli(c).UTC(), time.UnixMilli(m).UTC(), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ keychain.Backend = (*Store)(nil)
