package model

import "time"

// Provisioning queue item statuses.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// Provisioning stages, in execution order.
const (
	StageCreatingUser       = "creating_user"
	StageSendingCredentials = "sending_credentials"
)

// ProvisioningQueueItem is one unit of post-payment fulfillment work.
// Exactly one exists per order. Stage only advances forward; a failure
// pins the stage so a retry resumes there instead of redoing completed
// work (recreating an already-created account, for instance).
type ProvisioningQueueItem struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	RetryCount int       `json:"retry_count"`
	Password   string    `json:"-"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
