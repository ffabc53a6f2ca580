package models

import "time"

// Post represents a post created by a user under a category.
type Post struct {
	ID         string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	Title      string    `gorm:"size:255;not null" bson:"title" json:"title"`
	Content    string    `gorm:"type:text;not null" bson:"content" json:"content"`
	CategoryID string    `gorm:"size:36;index" bson:"category" json:"category"`
	OwnerID    string    `gorm:"size:36;index;not null" bson:"owner" json:"owner"`
	CreatedAt  time.Time `gorm:"index" bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}
