package queue

import (
	"fmt"
	"strings"
)

// JobMessage is the broker payload naming one job for a queued worker run.
// The same shape is used on the provisioning and setup queues.
type JobMessage struct {
	JobID         string `json:"jobId"`
	BatchID       string `json:"batchId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	return nil
}
