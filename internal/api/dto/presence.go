package dto

import "time"

// PresenceDTO 在线状态查询响应
type PresenceDTO struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
