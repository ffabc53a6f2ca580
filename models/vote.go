package models

import "time"

const (
	VoteUp   = "upvote"
	VoteDown = "downvote"
)

// Vote is unique per (post, voter); casting again overwrites VoteType.
type Vote struct {
	ID        string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	PostID    string    `gorm:"size:36;uniqueIndex:idx_votes_post_voter;not null" bson:"post" json:"post"`
	VoterID   string    `gorm:"size:36;uniqueIndex:idx_votes_post_voter;not null" bson:"voter" json:"voter"`
	VoteType  string    `gorm:"size:16;not null" bson:"voteType" json:"voteType"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// VoteTally counts votes on one post.
type VoteTally struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
}
