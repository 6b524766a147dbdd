package keychain

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/benaskins/keystash/internal/audit"
)

// AuditedBackend wraps a Backend and records every data read and every
// mutation to an audit log.
type AuditedBackend struct {
	inner Backend
	audit *audit.Logger
	actor string // "cli" or "library"
}

// NewAuditedBackend wraps an existing backend with audit logging.
func NewAuditedBackend(inner Backend, auditLog *audit.Logger, actor string) *AuditedBackend {
	return &AuditedBackend{
		inner: inner,
		audit: auditLog,
		actor: actor,
	}
}

// record is best-effort: a failure to log never blocks the operation.
func (b *AuditedBackend) record(action audit.Action, class EntryClass, service, group string, account []byte, opErr error) {
	e := audit.Entry{
		Action:      action,
		Key:         string(account),
		Service:     service,
		AccessGroup: group,
		Class:       class.String(),
		Actor:       b.actor,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := b.audit.Log(e); err != nil {
		slog.Warn("audit log write failed", "action", action, "error", err)
	}
}

func (b *AuditedBackend) Add(item Item) error {
	err := b.inner.Add(item)
	// A duplicate is the normal path into an update; it is not an event.
	if errors.Is(err, ErrDuplicate) {
		return fmt.Errorf("audited add: %w", err)
	}
	b.record(audit.ActionWrite, item.Class, item.Service, item.AccessGroup, item.Account, err)
	if err != nil {
		return fmt.Errorf("audited add: %w", err)
	}
	return nil
}

func (b *AuditedBackend) CopyMatching(q Query) ([]Match, error) {
	matches, err := b.inner.CopyMatching(q)
	if err != nil {
		return nil, fmt.Errorf("audited copy matching: %w", err)
	}
	if q.Return == ReturnData {
		for _, m := range matches {
			b.record(audit.ActionRead, m.Class, m.Service, m.AccessGroup, m.Account, nil)
		}
	}
	return matches, nil
}

func (b *AuditedBackend) Update(q Query, attrs Update) error {
	err := b.inner.Update(q, attrs)
	b.record(audit.ActionUpdate, q.Class, q.Service, q.AccessGroup, q.Account, err)
	if err != nil {
		return fmt.Errorf("audited update: %w", err)
	}
	return nil
}

func (b *AuditedBackend) Delete(q Query) error {
	err := b.inner.Delete(q)
	action := audit.ActionDelete
	switch {
	case q.Service == "" && q.Account == nil:
		action = audit.ActionWipe
	case q.Account == nil:
		action = audit.ActionClear
	}
	b.record(action, q.Class, q.Service, q.AccessGroup, q.Account, err)
	if err != nil {
		return fmt.Errorf("audited delete: %w", err)
	}
	return nil
}
