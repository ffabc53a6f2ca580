package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/utils"
)

func flat(pairs ...[2]string) []models.Comment {
	out := make([]models.Comment, 0, len(pairs))
	for _, p := range pairs {
		c := models.Comment{ID: p[0], Content: "c" + p[0], PostID: "p"}
		if p[1] != "" {
			c.ParentCommentID = strPtr(p[1])
		}
		out = append(out, c)
	}
	return out
}

func TestBuildTreeNestsToAnyDepth(t *testing.T) {
	forest := BuildTree(flat([2]string{"1", ""}, [2]string{"2", "1"}, [2]string{"3", "2"}))

	require.Len(t, forest, 1)
	assert.Equal(t, "1", forest[0].ID)
	require.Len(t, forest[0].Replies, 1)
	assert.Equal(t, "2", forest[0].Replies[0].ID)
	require.Len(t, forest[0].Replies[0].Replies, 1)
	assert.Equal(t, "3", forest[0].Replies[0].Replies[0].ID)
	assert.Empty(t, forest[0].Replies[0].Replies[0].Replies)
}

func TestBuildTreeKeepsSiblingOrder(t *testing.T) {
	forest := BuildTree(flat(
		[2]string{"a", ""},
		[2]string{"b", ""},
		[2]string{"c", "a"},
		[2]string{"d", "a"},
		[2]string{"e", "a"},
	))
	require.Len(t, forest, 2)
	assert.Equal(t, "a", forest[0].ID)
	assert.Equal(t, "b", forest[1].ID)

	var ids []string
	for _, r := range forest[0].Replies {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "d", "e"}, ids)
}

func TestBuildTreeOrphansAndCycles(t *testing.T) {
	forest := BuildTree(flat(
		[2]string{"root", ""},
		[2]string{"orphan", "gone"},
		[2]string{"self", "self"},
		[2]string{"x", "y"},
		[2]string{"y", "x"},
	))

	seen := map[string]int{}
	var walk func(nodes []*CommentNode)
	walk = func(nodes []*CommentNode) {
		for _, n := range nodes {
			seen[n.ID]++
			walk(n.Replies)
		}
	}
	walk(forest)
	assert.Equal(t, map[string]int{"root": 1, "orphan": 1, "self": 1, "x": 1, "y": 1}, seen)
	assert.Equal(t, "orphan", forest[1].ID)
}

func TestBuildTreeEmpty(t *testing.T) {
	assert.Empty(t, BuildTree(nil))
}

func TestBuildTreeHidesDeletedContent(t *testing.T) {
	cs := flat([2]string{"1", ""})
	cs[0].OwnerID = "u1"
	cs[0].Deleted = true
	forest := BuildTree(cs)
	require.Len(t, forest, 1)
	assert.True(t, forest[0].Deleted)
	assert.Empty(t, forest[0].Content)
	assert.Empty(t, forest[0].OwnerID)
}

func TestCreateCommentAndReplyNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.user(t, "author", "secret123")
	alice := f.user(t, "alice", "secret123")
	bob := f.user(t, "bob", "secret123")
	p := f.post(t, author)

	top, err := f.comments.Create(ctx, p.ID, alice.ID, "nice post", nil)
	require.NoError(t, err)
	assert.Equal(t, author.ID, top.PostOwnerID)
	assert.Nil(t, top.ParentCommentID)

	reply, err := f.comments.Create(ctx, p.ID, bob.ID, "agreed", &top.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ParentCommentID)
	assert.Equal(t, top.ID, *reply.ParentCommentID)

	// author's own comment raises nothing
	_, err = f.comments.Create(ctx, p.ID, author.ID, "thanks", &reply.ID)
	require.NoError(t, err)

	var got []notified
	for _, e := range f.notifier.events {
		got = append(got, notified{e.Receiver, models.NotificationPayload{Type: e.Payload.Type, ActorID: e.Payload.ActorID}})
	}
	assert.Equal(t, []notified{
		{author.ID, models.NotificationPayload{Type: models.NotificationComment, ActorID: alice.ID}},
		{author.ID, models.NotificationPayload{Type: models.NotificationComment, ActorID: bob.ID}},
		{alice.ID, models.NotificationPayload{Type: models.NotificationReply, ActorID: bob.ID}},
		{bob.ID, models.NotificationPayload{Type: models.NotificationReply, ActorID: author.ID}},
	}, got)
}

func TestCreateCommentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "writer", "secret123")
	p := f.post(t, u)
	other := f.post(t, u)

	_, err := f.comments.Create(ctx, p.ID, u.ID, "   ", nil)
	assert.True(t, utils.IsKind(err, utils.KindBadRequest))

	_, err = f.comments.Create(ctx, "missing", u.ID, "hi", nil)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	_, err = f.comments.Create(ctx, p.ID, u.ID, "hi", strPtr("missing"))
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	elsewhere, err := f.comments.Create(ctx, other.ID, u.ID, "on the other post", nil)
	require.NoError(t, err)
	_, err = f.comments.Create(ctx, p.ID, u.ID, "cross-post reply", &elsewhere.ID)
	assert.True(t, utils.IsKind(err, utils.KindNotFound), "parent must belong to the same post")
}

func TestSoftDeleteKeepsReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "secret123")
	bob := f.user(t, "bob", "secret123")
	p := f.post(t, alice)

	parent, err := f.comments.Create(ctx, p.ID, alice.ID, "parent", nil)
	require.NoError(t, err)
	r1, err := f.comments.Create(ctx, p.ID, bob.ID, "reply one", &parent.ID)
	require.NoError(t, err)
	r2, err := f.comments.Create(ctx, p.ID, bob.ID, "reply two", &parent.ID)
	require.NoError(t, err)

	_, err = f.comments.SoftDelete(ctx, parent.ID, bob.ID)
	assert.True(t, utils.IsKind(err, utils.KindForbidden))

	deleted, err := f.comments.SoftDelete(ctx, parent.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Content)

	// deleting again is harmless
	_, err = f.comments.SoftDelete(ctx, parent.ID, alice.ID)
	require.NoError(t, err)

	forest, err := f.comments.ListForPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Equal(t, parent.ID, forest[0].ID)
	assert.True(t, forest[0].Deleted)
	assert.Empty(t, forest[0].Content)
	require.Len(t, forest[0].Replies, 2)
	assert.Equal(t, r1.ID, forest[0].Replies[0].ID)
	assert.Equal(t, r2.ID, forest[0].Replies[1].ID)
	assert.Equal(t, "reply one", forest[0].Replies[0].Content)

	stored, err := f.store.CommentByID(ctx, r1.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deleted)

	_, err = f.comments.SoftDelete(ctx, "missing", alice.ID)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	_, err = f.comments.ListForPost(ctx, "missing")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}
