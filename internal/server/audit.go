// internal/server/audit.go
package server

import "github.com/jason-s-yu/tablesync/internal/models"

// AuditSink receives a record for every accepted action and game lifecycle
// event. Record must not block the server loop.
type AuditSink interface {
	Record(rec models.AuditRecord)
}

// NopAudit discards records. It is used when no audit queue is configured.
type NopAudit struct{}

func (NopAudit) Record(models.AuditRecord) {}
