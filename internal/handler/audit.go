package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AuditEntry is one journaled command, persisted into SQLite via GORM
// (spec.md's domain-stack extension): a durable record of write order
// for post-render inspection, independent of the in-memory undo journals
// DataHandler/TextHandler keep for `_revert`.
type AuditEntry struct {
	ID        uint `gorm:"primaryKey"`
	ScopeID   string
	Handler   string
	Method    string
	Path      string
	Args      string
	CreatedAt time.Time
	Delivered bool
}

// AuditHandler is a registered user command handler (spec §4.6.3's
// addCommandHandlerClass) that journals every command it receives into a
// SQLite table instead of (or alongside) acting on it. It is the concrete
// illustration of Open Question #2's resolution: committed rows are
// never retracted, because the row itself is the record of "this command
// was already durably observed" — `_revert` only deletes still-undelivered
// rows, it does not pretend to undo a write a caller may have
// already read out of the database.
type AuditHandler struct {
	db      *gorm.DB
	scopeID string
	ids     []uint
}

// NewAuditHandler opens (or creates) a SQLite database at path and
// migrates the audit table. scopeID tags every row this handler instance
// writes, so entries from concurrent renders sharing one database file
// stay distinguishable.
func NewAuditHandler(path, scopeID string) (*AuditHandler, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit handler: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&AuditEntry{}); err != nil {
		return nil, fmt.Errorf("audit handler: migrate: %w", err)
	}
	return &AuditHandler{db: db, scopeID: scopeID}, nil
}

// Apply journals method/path/args as a row and marks it delivered
// immediately — the audit handler has no downstream effect to fail
// partway through, so "applied" and "delivered" are the same moment.
func (h *AuditHandler) Apply(method string, path []PathElem, args []interface{}) (interface{}, error) {
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("audit handler: marshal path: %w", err)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("audit handler: marshal args: %w", err)
	}
	entry := AuditEntry{
		ScopeID:   h.scopeID,
		Handler:   "audit",
		Method:    method,
		Path:      string(pathJSON),
		Args:      string(argsJSON),
		CreatedAt: time.Now(),
		Delivered: true,
	}
	if err := h.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("audit handler: insert: %w", err)
	}
	h.ids = append(h.ids, entry.ID)
	return nil, nil
}

// Revert drops every row this handler instance wrote that is still
// marked undelivered, and leaves already-delivered rows untouched —
// honest best-effort revert (spec §4.6.5, Open Question #2) rather than
// a rollback this handler can't actually guarantee once a row has been
// read by something outside the render.
func (h *AuditHandler) Revert() {
	if len(h.ids) == 0 {
		return
	}
	h.db.Where("id IN ? AND delivered = ?", h.ids, false).Delete(&AuditEntry{})
	h.ids = nil
}

// ReturnValue surfaces this scope's audit trail as the handler's
// contribution to the render Result (spec §4.6.3).
func (h *AuditHandler) ReturnValue() interface{} {
	var entries []AuditEntry
	h.db.Where("scope_id = ?", h.scopeID).Order("id asc").Find(&entries)
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{
			"handler": e.Handler,
			"method":  e.Method,
			"path":    e.Path,
			"args":    e.Args,
		}
	}
	return out
}
