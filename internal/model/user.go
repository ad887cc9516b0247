package model

import (
	"time"
)

// User 账户由外部认证服务维护，这里只读
type User struct {
	ID        string  `gorm:"primaryKey;type:char(36)"`
	Username  string  `gorm:"type:varchar(255);uniqueIndex"`
	Email     string  `gorm:"type:varchar(255);uniqueIndex"`
	FullName  string  `gorm:"type:varchar(255)"`
	AvatarURL *string `gorm:"type:varchar(512);column:avatar_url"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string {
	return "users"
}
