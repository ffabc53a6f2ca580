package models

import "time"

type Category struct {
	ID          string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	Name        string    `gorm:"size:64;uniqueIndex;not null" bson:"name" json:"name"`
	Description string    `gorm:"size:500" bson:"description" json:"description"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}
