package model

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel 主键为有符号整数：负数 ID 保留给待审核的导入数据
// swagger:model
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func GenerateUUID() string {
	return uuid.New().String()
}
