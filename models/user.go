package models

import "time"

// User is the credential record. Passwords are stored as bcrypt hashes only;
// refresh and reset tokens never leave the server.
type User struct {
	ID              string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	Username        string    `gorm:"size:64;uniqueIndex;not null" bson:"username" json:"username"`
	Email           string    `gorm:"size:255;uniqueIndex;not null" bson:"email" json:"email"`
	PasswordHash    string    `gorm:"size:255" bson:"password" json:"-"`
	Avatar          string    `gorm:"size:512" bson:"avatar" json:"avatar"`
	CoverImage      string    `gorm:"size:512" bson:"coverImage" json:"coverImage"`
	Bio             string    `gorm:"size:1000" bson:"bio" json:"bio"`
	Provider        string    `gorm:"size:32;index:idx_users_provider" bson:"provider,omitempty" json:"provider,omitempty"`
	ProviderID      string    `gorm:"size:255;index:idx_users_provider" bson:"providerId,omitempty" json:"-"`
	LikedCategories []string  `gorm:"-" bson:"likedCategories" json:"likedCategories"`
	RefreshToken    *string   `gorm:"size:1024" bson:"refreshToken,omitempty" json:"-"`
	ResetToken      *string   `gorm:"size:512;index" bson:"resetToken,omitempty" json:"-"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updatedAt"`
}

// UserCategory is the liked-category join row. The composite key keeps the
// set free of duplicates.
type UserCategory struct {
	UserID     string `gorm:"primaryKey;size:36"`
	CategoryID string `gorm:"primaryKey;size:36"`
	CreatedAt  time.Time
}

// PublicUser is the view of a user shown to other users.
type PublicUser struct {
	ID         string    `json:"_id"`
	Username   string    `json:"username"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"coverImage"`
	Bio        string    `json:"bio"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Username:   u.Username,
		Avatar:     u.Avatar,
		CoverImage: u.CoverImage,
		Bio:        u.Bio,
		CreatedAt:  u.CreatedAt,
	}
}
