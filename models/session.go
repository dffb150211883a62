package models

import (
	"encoding/json"
	"time"
)

// StateTransition 会话状态变更记录
type StateTransition struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
	At   time.Time    `json:"at"`
}

// SessionRecord 一次驱动会话的持久化记录
type SessionRecord struct {
	ID          string            `json:"id"`
	Browser     BrowserKind       `json:"browser"`
	Environment string            `json:"environment,omitempty"`
	RemoteHost  string            `json:"remote_host,omitempty"`
	PID         int               `json:"pid"`         // 驱动进程 PID（远程模式为 -1）
	State       SessionState      `json:"state"`       // 当前状态
	LastError   string            `json:"last_error"`  // 最近一次致命错误
	Transitions []StateTransition `json:"transitions"` // 状态变更历史
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (r *SessionRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ScreenshotRecord 截图记录
type ScreenshotRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Path         string    `json:"path"`                    // 截图文件路径
	SnapshotPath string    `json:"snapshot_path,omitempty"` // 页面 markdown 快照路径
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	URL          string    `json:"url"` // 截图时页面 URL
	CreatedAt    time.Time `json:"created_at"`
}

func (r *ScreenshotRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
