package enums

// TaskStatus tracks a durable queue row.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusDead      TaskStatus = "dead"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusQueued,
	TaskStatusRunning,
	TaskStatusSucceeded,
	TaskStatusDead,
}

func (s TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// TaskKind names a task handler.
type TaskKind string

const (
	TaskShipmentCreate TaskKind = "shipment.create"
	TaskPayoutTransfer TaskKind = "payout.transfer"
)
