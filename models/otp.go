package models

import "time"

const (
	OTPScenarioRegistration = "registration"
	OTPScenarioEmailChange  = "email-change"
)

// OTP is a one-time code scoped to an email and a scenario. Older records for
// the same email stay in place; lookups always take the newest.
type OTP struct {
	ID        string    `gorm:"primaryKey;size:36" bson:"_id"`
	Email     string    `gorm:"size:255;index:idx_otps_email_scenario;not null" bson:"email"`
	Scenario  string    `gorm:"size:32;index:idx_otps_email_scenario;not null" bson:"scenario"`
	Code      string    `gorm:"size:6;index;not null" bson:"code"`
	CreatedAt time.Time `gorm:"index" bson:"createdAt"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

func (OTP) TableName() string { return "otps" }
