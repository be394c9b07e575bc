package models

import "time"

type User struct {
	ID          string   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string   `gorm:"size:255;not null"`
	Email       string   `gorm:"size:320;not null;uniqueIndex"`
	PhoneNumber string   `gorm:"size:32;not null;default:''"`
	Role        string   `gorm:"size:64;not null;default:''"`
	Permissions []string `gorm:"type:jsonb;serializer:json;not null;default:'[]'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}
