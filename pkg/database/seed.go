package database

import (
	"errors"
	"os"

	"questionnaire_backend/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type SeedUser struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	IsAdmin  bool   `yaml:"is_admin"`
}

type SeedQuestion struct {
	ID       int64    `yaml:"id"`
	Text     string   `yaml:"text"`
	Type     string   `yaml:"type"`
	Options  []string `yaml:"options"`
	Priority int      `yaml:"priority"`
}

type SeedQuestionnaire struct {
	ID          int64          `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Questions   []SeedQuestion `yaml:"questions"`
}

type SeedData struct {
	Users          []SeedUser          `yaml:"users"`
	Questionnaires []SeedQuestionnaire `yaml:"questionnaires"`
}

func LoadSeed(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Seed 仅在对应表为空时写入默认用户和示例问卷
func Seed(db *gorm.DB, data *SeedData) error {
	if data == nil {
		return errors.New("nil seed data")
	}

	var userCount int64
	if err := db.Model(&model.User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if userCount == 0 {
		for _, u := range data.Users {
			hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			user := &model.User{
				Username:     u.Username,
				Email:        u.Email,
				PasswordHash: string(hash),
				IsAdmin:      u.IsAdmin,
			}
			if err := db.Create(user).Error; err != nil {
				return err
			}
		}
	}

	var qCount int64
	if err := db.Model(&model.Questionnaire{}).Count(&qCount).Error; err != nil {
		return err
	}
	if qCount > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, sq := range data.Questionnaires {
			qn := &model.Questionnaire{Name: sq.Name, Description: sq.Description}
			qn.ID = sq.ID
			if err := tx.Create(qn).Error; err != nil {
				return err
			}
			for _, item := range sq.Questions {
				var existing model.Question
				err := tx.First(&existing, item.ID).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					q := &model.Question{
						ID:      item.ID,
						Text:    item.Text,
						Type:    model.QuestionType(item.Type),
						Options: model.EncodeOptions(item.Options),
					}
					if err := q.Normalize(); err != nil {
						return err
					}
					if err := tx.Create(q).Error; err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
				link := &model.QuestionnaireQuestion{
					QuestionnaireID: qn.ID,
					QuestionID:      item.ID,
					Priority:        item.Priority,
				}
				if err := tx.Create(link).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}
