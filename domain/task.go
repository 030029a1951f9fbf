package domain

import "time"

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo     Status = "todo"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
)

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusTodo, StatusProgress, StatusDone:
		return Status(s), true
	}
	return "", false
}

// AIStatusThinking marks a task the agent is currently working on.
const AIStatusThinking = "thinking"

// Task represents a single board item. JSON names match the persisted
// column names so snapshots can be consumed by existing board clients.
type Task struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Type           string     `json:"type,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	Estimation     string     `json:"estimation,omitempty"`
	StartDate      *time.Time `gorm:"column:start_date" json:"start_date,omitempty"`
	EndDate        *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`
	Status         Status     `json:"status"`
	UserID         string     `gorm:"column:user_id;index" json:"user_id"`
	AssignedTo     *string    `gorm:"column:assigned_to" json:"assigned_to,omitempty"`
	OrganisationID *string    `gorm:"column:organisation_id;index" json:"organisation_id"`
	IsMainBoard    bool       `gorm:"column:is_main_board" json:"is_main_board"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
	AIOutput       string     `gorm:"column:ai_output" json:"ai_output,omitempty"`
	AIAgent        string     `gorm:"column:ai_agent" json:"ai_agent,omitempty"`
	AIStatus       string     `gorm:"column:ai_status" json:"ai_status,omitempty"`
}

// LastTouched is the timestamp staleness is measured from.
func (t Task) LastTouched() time.Time {
	if !t.UpdatedAt.IsZero() {
		return t.UpdatedAt
	}
	return t.CreatedAt
}
