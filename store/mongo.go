package store

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/whisperhub/whisperhub/models"
)

// MongoStore implements Store on MongoDB. Each conditional update is a single
// document operation, which MongoDB applies atomically.
type MongoStore struct {
	db            *mongo.Database
	users         *mongo.Collection
	otps          *mongo.Collection
	categories    *mongo.Collection
	posts         *mongo.Collection
	comments      *mongo.Collection
	notifications *mongo.Collection
	votes         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:            db,
		users:         db.Collection("users"),
		otps:          db.Collection("otps"),
		categories:    db.Collection("categories"),
		posts:         db.Collection("posts"),
		comments:      db.Collection("comments"),
		notifications: db.Collection("notifications"),
		votes:         db.Collection("votes"),
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := map[*mongo.Collection][]mongo.IndexModel{
		s.users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "resetToken", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "providerId", Value: 1}}},
		},
		s.otps: {
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "scenario", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "code", Value: 1}}},
		},
		s.categories: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique},
		},
		s.posts: {
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "owner", Value: 1}}},
		},
		s.comments: {
			{Keys: bson.D{{Key: "post", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		s.notifications: {
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "isRead", Value: 1}}},
		},
		s.votes: {
			{Keys: bson.D{{Key: "post", Value: 1}, {Key: "voter", Value: 1}}, Options: unique},
		},
		s.conversations: {
			{Keys: bson.D{{Key: "userA", Value: 1}, {Key: "userB", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "userB", Value: 1}}},
		},
		s.messages: {
			{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}
	for coll, idx := range specs {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func mongoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	}
	return err
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		return nil, mongoErr(err)
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- users ---

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	stamp(&u.ID, &u.CreatedAt)
	u.UpdatedAt = u.CreatedAt
	if u.LikedCategories == nil {
		u.LikedCategories = []string{}
	}
	_, err := s.users.InsertOne(ctx, u)
	return mongoErr(err)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	u, err := findOne[models.User](ctx, s.users, filter)
	if err != nil {
		return nil, err
	}
	if u.LikedCategories == nil {
		u.LikedCategories = []string{}
	}
	return u, nil
}

func (s *MongoStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoStore) UserByProvider(ctx context.Context, provider, providerID string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"provider": provider, "providerId": providerID})
}

func (s *MongoStore) UserByResetToken(ctx context.Context, token string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"resetToken": token})
}

func (s *MongoStore) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error {
	if p.empty() {
		return nil
	}
	set := bson.M{"updatedAt": now()}
	put := func(field string, v *string) {
		if v != nil {
			set[field] = *v
		}
	}
	put("username", p.Username)
	put("email", p.Email)
	put("bio", p.Bio)
	put("password", p.PasswordHash)
	put("avatar", p.Avatar)
	put("coverImage", p.CoverImage)

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return mongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SetRefreshToken(ctx context.Context, id string, token *string) error {
	update := bson.M{"$unset": bson.M{"refreshToken": ""}, "$set": bson.M{"updatedAt": now()}}
	if token != nil {
		update = bson.M{"$set": bson.M{"refreshToken": *token, "updatedAt": now()}}
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SwapRefreshToken(ctx context.Context, id, old, next string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id, "refreshToken": old},
		bson.M{"$set": bson.M{"refreshToken": next, "updatedAt": now()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) SetResetToken(ctx context.Context, id, token string) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"resetToken": token, "updatedAt": now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ConsumeResetToken(ctx context.Context, id, token, passwordHash string) (bool, error) {
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "resetToken": token},
		bson.M{
			"$set":   bson.M{"password": passwordHash, "updatedAt": now()},
			"$unset": bson.M{"resetToken": ""},
		},
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return err == nil, err
}

func (s *MongoStore) AddLikedCategories(ctx context.Context, userID string, categoryIDs []string) ([]string, error) {
	if len(categoryIDs) > 0 {
		res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID},
			bson.M{"$addToSet": bson.M{"likedCategories": bson.M{"$each": categoryIDs}}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, ErrNotFound
		}
	}
	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.LikedCategories, nil
}

func (s *MongoStore) RemoveLikedCategory(ctx context.Context, userID, categoryID string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "likedCategories": categoryID},
		bson.M{"$pull": bson.M{"likedCategories": categoryID}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// --- otps ---

func (s *MongoStore) CreateOTP(ctx context.Context, o *models.OTP) error {
	stamp(&o.ID, &o.CreatedAt)
	_, err := s.otps.InsertOne(ctx, o)
	return mongoErr(err)
}

func (s *MongoStore) LatestOTP(ctx context.Context, email, scenario string) (*models.OTP, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return findOne[models.OTP](ctx, s.otps, bson.M{"email": email, "scenario": scenario}, opts)
}

func (s *MongoStore) OTPCodeExists(ctx context.Context, code string) (bool, error) {
	n, err := s.otps.CountDocuments(ctx, bson.M{"code": code}, options.Count().SetLimit(1))
	return n > 0, err
}

// --- categories ---

func (s *MongoStore) CreateCategory(ctx context.Context, c *models.Category) error {
	stamp(&c.ID, &c.CreatedAt)
	_, err := s.categories.InsertOne(ctx, c)
	return mongoErr(err)
}

func (s *MongoStore) CategoryByID(ctx context.Context, id string) (*models.Category, error) {
	return findOne[models.Category](ctx, s.categories, bson.M{"_id": id})
}

func (s *MongoStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	return findAll[models.Category](ctx, s.categories, bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

// --- posts ---

func (s *MongoStore) CreatePost(ctx context.Context, p *models.Post) error {
	stamp(&p.ID, &p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	_, err := s.posts.InsertOne(ctx, p)
	return mongoErr(err)
}

func (s *MongoStore) PostByID(ctx context.Context, id string) (*models.Post, error) {
	return findOne[models.Post](ctx, s.posts, bson.M{"_id": id})
}

func (s *MongoStore) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, int64, error) {
	filter := bson.M{}
	if f.CategoryID != "" {
		filter["category"] = f.CategoryID
	}
	if f.Query != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.Query), Options: "i"}
		filter["$or"] = bson.A{bson.M{"title": re}, bson.M{"content": re}}
	}
	total, err := s.posts.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	offset, limit := f.Bounds()
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	list, err := findAll[models.Post](ctx, s.posts, filter, opts)
	return list, total, err
}

// --- comments ---

func (s *MongoStore) CreateComment(ctx context.Context, c *models.Comment) error {
	stamp(&c.ID, &c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	_, err := s.comments.InsertOne(ctx, c)
	return mongoErr(err)
}

func (s *MongoStore) CommentByID(ctx context.Context, id string) (*models.Comment, error) {
	return findOne[models.Comment](ctx, s.comments, bson.M{"_id": id})
}

func (s *MongoStore) CommentsByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	return findAll[models.Comment](ctx, s.comments, bson.M{"post": postID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
}

func (s *MongoStore) MarkCommentDeleted(ctx context.Context, id string) error {
	res, err := s.comments.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"deleted": true, "content": "", "updatedAt": now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// --- notifications ---

func (s *MongoStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	stamp(&n.ID, &n.CreatedAt)
	_, err := s.notifications.InsertOne(ctx, n)
	return mongoErr(err)
}

func (s *MongoStore) NotificationsForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	return findAll[models.Notification](ctx, s.notifications, bson.M{"receiver": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}))
}

func (s *MongoStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	return s.notifications.CountDocuments(ctx, bson.M{"receiver": userID, "isRead": false})
}

func (s *MongoStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.notifications.UpdateMany(ctx,
		bson.M{"receiver": userID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// --- votes ---

func (s *MongoStore) UpsertVote(ctx context.Context, postID, voterID, voteType string) (*models.Vote, bool, error) {
	filter := bson.M{"post": postID, "voter": voterID}
	upsert := func() (*mongo.UpdateResult, error) {
		ts := now()
		return s.votes.UpdateOne(ctx, filter,
			bson.M{
				"$set":         bson.M{"voteType": voteType, "updatedAt": ts},
				"$setOnInsert": bson.M{"_id": models.NewID(), "createdAt": ts},
			},
			options.Update().SetUpsert(true))
	}

	res, err := upsert()
	// Two concurrent upserts can both miss and race on the unique index; the
	// loser retries and now matches the winner's document.
	if mongo.IsDuplicateKeyError(err) {
		res, err = upsert()
	}
	if err != nil {
		return nil, false, err
	}
	v, err := findOne[models.Vote](ctx, s.votes, filter)
	if err != nil {
		return nil, false, err
	}
	return v, res.UpsertedCount == 1, nil
}

func (s *MongoStore) TallyVotes(ctx context.Context, postID string) (models.VoteTally, error) {
	var t models.VoteTally
	cur, err := s.votes.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"post": postID}}},
		{{Key: "$group", Value: bson.M{"_id": "$voteType", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return t, err
	}
	var rows []struct {
		Type string `bson:"_id"`
		N    int64  `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return t, err
	}
	for _, r := range rows {
		switch r.Type {
		case models.VoteUp:
			t.Upvotes = r.N
		case models.VoteDown:
			t.Downvotes = r.N
		}
	}
	return t, nil
}

// --- conversations ---

func (s *MongoStore) ConversationForPair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	a, b := models.OrderedPair(userA, userB)
	filter := bson.M{"userA": a, "userB": b}
	ts := now()
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var c models.Conversation
	err := s.conversations.FindOneAndUpdate(ctx, filter,
		bson.M{"$setOnInsert": bson.M{"_id": models.NewID(), "createdAt": ts, "updatedAt": ts}},
		opts).Decode(&c)
	if mongo.IsDuplicateKeyError(err) {
		return findOne[models.Conversation](ctx, s.conversations, filter)
	}
	if err != nil {
		return nil, mongoErr(err)
	}
	return &c, nil
}

func (s *MongoStore) ConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	return findOne[models.Conversation](ctx, s.conversations, bson.M{"_id": id})
}

func (s *MongoStore) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	return findAll[models.Conversation](ctx, s.conversations,
		bson.M{"$or": bson.A{bson.M{"userA": userID}, bson.M{"userB": userID}}},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}))
}

// CreateMessage inserts first and then moves the conversation pointer. A
// crash in between leaves a stale lastMessage, which the next message fixes.
func (s *MongoStore) CreateMessage(ctx context.Context, m *models.Message) error {
	stamp(&m.ID, &m.CreatedAt)
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return mongoErr(err)
	}
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": m.ConversationID},
		bson.M{"$set": bson.M{"lastMessage": m.ID, "lastMessageAt": m.CreatedAt, "updatedAt": m.CreatedAt}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) MessagesIn(ctx context.Context, conversationID string) ([]models.Message, error) {
	return findAll[models.Message](ctx, s.messages, bson.M{"conversationId": conversationID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MongoStore)(nil)
)
