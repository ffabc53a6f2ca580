package models

import "time"

// Comment is stored flat; ParentCommentID links replies. Deleted comments keep
// their row so replies stay attached.
type Comment struct {
	ID              string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	Content         string    `gorm:"type:text" bson:"content" json:"content"`
	OwnerID         string    `gorm:"size:36;index;not null" bson:"owner" json:"owner"`
	PostID          string    `gorm:"size:36;index:idx_comments_post_created;not null" bson:"post" json:"post"`
	ParentCommentID *string   `gorm:"size:36;index" bson:"parentCommentId,omitempty" json:"parentCommentId,omitempty"`
	Deleted         bool      `gorm:"not null;default:false" bson:"deleted" json:"deleted"`
	PostOwnerID     string    `gorm:"size:36;not null" bson:"postOwner" json:"postOwner"`
	CreatedAt       time.Time `gorm:"index:idx_comments_post_created" bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updatedAt"`
}
