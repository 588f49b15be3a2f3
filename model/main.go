package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type HabitFrequency string

const (
	Daily   HabitFrequency = "Daily"
	Weekly  HabitFrequency = "Weekly"
	Monthly HabitFrequency = "Monthly"
)

// IsValid returns true if HabitFrequency is known
func (f HabitFrequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (f *HabitFrequency) Scan(value interface{ any }) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot scan %T into HabitFrequency", value)
	}
	*f = HabitFrequency(v)
	return nil
}

func (f HabitFrequency) Value() (driver.Value, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("invalid HabitFrequency %q", f)
	}
	return string(f), nil
}

// A User is a BirdQuest player.
//
// Players earn XP by completing habits and spend it on birds for their
// aviary. A streak counts consecutive days with at least one completed habit.
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;not null;check:username <> ''"`
	Email        string `gorm:"size:254;default:EMAIL_MISSING"`
	PasswordHash string
	XP           int `gorm:"default:0"`
	Streak       int `gorm:"default:0"`
	LastActiveAt *time.Time
}

type OwnedBird struct {
	gorm.Model
	UserID     uint   `gorm:"index;not null"` // FK to users
	User       User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Species    string `gorm:"not null"`
	Nickname   *string
	AcquiredAt time.Time `gorm:"autoCreateTime"`
}

// CompletedHabit records one completion of a habit on a given day. HabitKey
// names either a built-in habit or a CustomHabit ("custom:<id>").
type CompletedHabit struct {
	gorm.Model
	UserID      uint      `gorm:"index:idx_completed_user_day;not null"`
	User        User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	HabitKey    string    `gorm:"size:100;not null"`
	CompletedOn time.Time `gorm:"index:idx_completed_user_day"`
	XPAwarded   int
}

type CustomHabit struct {
	gorm.Model
	UserID      uint   `gorm:"index;not null"`
	User        User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Name        string `gorm:"size:100;not null"`
	Description string
	Frequency   HabitFrequency `gorm:"type:text;default:Daily"`
}

// HiddenHabit hides a built-in habit from a user's list.
type HiddenHabit struct {
	gorm.Model
	UserID   uint   `gorm:"uniqueIndex:idx_hidden_user_habit;not null"`
	User     User   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	HabitKey string `gorm:"uniqueIndex:idx_hidden_user_habit;size:100;not null"`
}
