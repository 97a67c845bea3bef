package model

// swagger:model User
type User struct {
	BaseModel
	Username     string `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Email        string `gorm:"size:100" json:"email"`
	PasswordHash string `gorm:"size:100;not null" json:"-"`
	IsAdmin      bool   `gorm:"default:false" json:"is_admin"`
}

func (User) TableName() string {
	return "users"
}
