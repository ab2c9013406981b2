package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskLeadImport = "leads.import"

const TaskLeadExport = "leads.export"

type LeadImportPayload struct {
	JobID     string              `json:"jobId"`
	TenantID  string              `json:"tenantId"`
	ActorID   string              `json:"actorId"`
	RequestID string              `json:"requestId,omitempty"`
	Rows      []map[string]string `json:"rows"`
	Source    *string             `json:"source,omitempty"`
}

type LeadExportPayload struct {
	JobID       string     `json:"jobId"`
	TenantID    string     `json:"tenantId"`
	ActorID     string     `json:"actorId"`
	RequestID   string     `json:"requestId,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Source      *string    `json:"source,omitempty"`
	OwnerID     *string    `json:"ownerId,omitempty"`
	CreatedFrom *time.Time `json:"createdFrom,omitempty"`
	CreatedTo   *time.Time `json:"createdTo,omitempty"`
}

func NewLeadImportTask(payload LeadImportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadImport, data), nil
}

func ParseLeadImportPayload(task *asynq.Task) (LeadImportPayload, error) {
	var payload LeadImportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadImportPayload{}, err
	}
	return payload, nil
}

func NewLeadExportTask(payload LeadExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadExport, data), nil
}

func ParseLeadExportPayload(task *asynq.Task) (LeadExportPayload, error) {
	var payload LeadExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadExportPayload{}, err
	}
	return payload, nil
}
