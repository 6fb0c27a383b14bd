package store

import "time"

// Status WorkItem 状态
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid 判断是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal 终态不会再被自动修改
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WorkItem 一次上传从入库到终态的持久化记录
type WorkItem struct {
	ID           string    `gorm:"primaryKey;size:36"`
	BlobRef      string    `gorm:"size:512;not null"`
	Status       Status    `gorm:"size:16;not null;index"`
	Result       string    `gorm:"type:text"`
	ErrorDetail  string    `gorm:"type:text"`
	AttemptCount int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName 固定表名
func (WorkItem) TableName() string {
	return "work_items"
}

func (w *WorkItem) clone() *WorkItem {
	c := *w
	return &c
}
