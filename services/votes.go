package services

import (
	"context"
	"errors"
	"strings"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

// VoteService keeps one vote per (post, voter).
type VoteService struct {
	votes    store.Votes
	posts    store.Posts
	notifier Notifier
}

func NewVoteService(votes store.Votes, posts store.Posts, notifier Notifier) *VoteService {
	return &VoteService{votes: votes, posts: posts, notifier: notifier}
}

// Cast records voteType for the voter, overwriting an earlier vote on the same
// post. created reports whether this was the voter's first vote on the post.
func (s *VoteService) Cast(ctx context.Context, postID, voterID, voteType string) (*models.Vote, bool, error) {
	voteType = strings.ToLower(strings.TrimSpace(voteType))
	if voteType != models.VoteUp && voteType != models.VoteDown {
		return nil, false, utils.BadRequest("vote type must be upvote or downvote")
	}
	post, err := s.posts.PostByID(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, utils.NotFound("post not found")
	}
	if err != nil {
		return nil, false, utils.ServerError("failed to load post", err)
	}

	vote, created, err := s.votes.UpsertVote(ctx, post.ID, voterID, voteType)
	if err != nil {
		return nil, false, utils.ServerError("failed to save vote", err)
	}
	if created {
		notifyQuietly(ctx, s.notifier, post.OwnerID, models.NotificationPayload{
			Type:    models.NotificationVote,
			ActorID: voterID,
			PostID:  post.ID,
			Message: voteType + "d your post",
		})
	}
	return vote, created, nil
}

// Tally counts the votes on a post.
func (s *VoteService) Tally(ctx context.Context, postID string) (models.VoteTally, error) {
	t, err := s.votes.TallyVotes(ctx, postID)
	if err != nil {
		return models.VoteTally{}, utils.ServerError("failed to count votes", err)
	}
	return t, nil
}
