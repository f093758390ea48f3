// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"time"

	"ta-content-pipeline/internal/model"
)

// IngestTask represents one ingestion run queued on Kafka.
// Units are carried inline; when Object is set the consumer reads the units
// from that MinIO object instead.
type IngestTask struct {
	RunID       string              `json:"run_id"`
	Units       []model.ContentUnit `json:"units,omitempty"`
	Object      string              `json:"object,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
}
