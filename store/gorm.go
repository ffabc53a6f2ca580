package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/whisperhub/whisperhub/models"
)

// GormStore implements Store on a relational database through gorm.
// MySQL in production, sqlite in tests.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or extends the schema for every model.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.UserCategory{},
		&models.OTP{},
		&models.Category{},
		&models.Post{},
		&models.Comment{},
		&models.Notification{},
		&models.Vote{},
		&models.Conversation{},
		&models.Message{},
	)
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func now() time.Time { return time.Now().UTC() }

func stamp(id *string, created *time.Time) {
	if *id == "" {
		*id = models.NewID()
	}
	if created.IsZero() {
		*created = now()
	}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isDuplicateMessage(err):
		return ErrDuplicate
	}
	return err
}

// isDuplicateMessage catches drivers that do not translate unique violations.
func isDuplicateMessage(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// --- users ---

func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	stamp(&u.ID, &u.CreatedAt)
	u.UpdatedAt = u.CreatedAt
	if u.LikedCategories == nil {
		u.LikedCategories = []string{}
	}
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *GormStore) findUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where(query, args...).Take(&u).Error; err != nil {
		return nil, translate(err)
	}
	liked, err := s.likedCategories(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.LikedCategories = liked
	return &u, nil
}

func (s *GormStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *GormStore) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *GormStore) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, "username = ?", username)
}

func (s *GormStore) UserByProvider(ctx context.Context, provider, providerID string) (*models.User, error) {
	return s.findUser(ctx, "provider = ? AND provider_id = ?", provider, providerID)
}

func (s *GormStore) UserByResetToken(ctx context.Context, token string) (*models.User, error) {
	return s.findUser(ctx, "reset_token = ?", token)
}

func (s *GormStore) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error {
	if p.empty() {
		return nil
	}
	fields := map[string]any{"updated_at": now()}
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = *v
		}
	}
	set("username", p.Username)
	set("email", p.Email)
	set("bio", p.Bio)
	set("password_hash", p.PasswordHash)
	set("avatar", p.Avatar)
	set("cover_image", p.CoverImage)

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetRefreshToken(ctx context.Context, id string, token *string) error {
	var value any = gorm.Expr("NULL")
	if token != nil {
		value = *token
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"refresh_token": value, "updated_at": now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SwapRefreshToken(ctx context.Context, id, old, next string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", id, old).
		Updates(map[string]any{"refresh_token": next, "updated_at": now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) SetResetToken(ctx context.Context, id, token string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"reset_token": token, "updated_at": now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ConsumeResetToken(ctx context.Context, id, token, passwordHash string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND reset_token = ?", id, token).
		Updates(map[string]any{
			"password_hash": passwordHash,
			"reset_token":   gorm.Expr("NULL"),
			"updated_at":    now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) likedCategories(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).Model(&models.UserCategory{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Pluck("category_id", &ids).Error
	return ids, err
}

func (s *GormStore) AddLikedCategories(ctx context.Context, userID string, categoryIDs []string) ([]string, error) {
	if len(categoryIDs) > 0 {
		ts := now()
		rows := make([]models.UserCategory, 0, len(categoryIDs))
		for _, cid := range categoryIDs {
			rows = append(rows, models.UserCategory{UserID: userID, CategoryID: cid, CreatedAt: ts})
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		if err != nil {
			return nil, err
		}
	}
	return s.likedCategories(ctx, userID)
}

func (s *GormStore) RemoveLikedCategory(ctx context.Context, userID, categoryID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND category_id = ?", userID, categoryID).
		Delete(&models.UserCategory{})
	return res.RowsAffected == 1, res.Error
}

// --- otps ---

func (s *GormStore) CreateOTP(ctx context.Context, o *models.OTP) error {
	stamp(&o.ID, &o.CreatedAt)
	return translate(s.db.WithContext(ctx).Create(o).Error)
}

func (s *GormStore) LatestOTP(ctx context.Context, email, scenario string) (*models.OTP, error) {
	var o models.OTP
	err := s.db.WithContext(ctx).
		Where("email = ? AND scenario = ?", email, scenario).
		Order("created_at DESC").Order("id DESC").
		Take(&o).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (s *GormStore) OTPCodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.OTP{}).Where("code = ?", code).Limit(1).Count(&n).Error
	return n > 0, err
}

// --- categories ---

func (s *GormStore) CreateCategory(ctx context.Context, c *models.Category) error {
	stamp(&c.ID, &c.CreatedAt)
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) CategoryByID(ctx context.Context, id string) (*models.Category, error) {
	var c models.Category
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	list := []models.Category{}
	err := s.db.WithContext(ctx).Order("name ASC").Find(&list).Error
	return list, err
}

// --- posts ---

func (s *GormStore) CreatePost(ctx context.Context, p *models.Post) error {
	stamp(&p.ID, &p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	return translate(s.db.WithContext(ctx).Create(p).Error)
}

func (s *GormStore) PostByID(ctx context.Context, id string) (*models.Post, error) {
	var p models.Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Post{})
	if f.CategoryID != "" {
		q = q.Where("category_id = ?", f.CategoryID)
	}
	if f.Query != "" {
		like := "%" + escapeLike(f.Query) + "%"
		q = q.Where("(title LIKE ? ESCAPE '!' OR content LIKE ? ESCAPE '!')", like, like)
	}
	// new session so Count and Find each start from the same conditions
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := f.Bounds()
	list := []models.Post{}
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// --- comments ---

func (s *GormStore) CreateComment(ctx context.Context, c *models.Comment) error {
	stamp(&c.ID, &c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) CommentByID(ctx context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) CommentsByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	list := []models.Comment{}
	err := s.db.WithContext(ctx).Where("post_id = ?", postID).
		Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (s *GormStore) MarkCommentDeleted(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).
		Updates(map[string]any{"deleted": true, "content": "", "updated_at": now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- notifications ---

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	stamp(&n.ID, &n.CreatedAt)
	return translate(s.db.WithContext(ctx).Create(n).Error)
}

func (s *GormStore) NotificationsForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	list := []models.Notification{}
	err := s.db.WithContext(ctx).Where("receiver_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&list).Error
	return list, err
}

func (s *GormStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

func (s *GormStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// --- votes ---

func (s *GormStore) UpsertVote(ctx context.Context, postID, voterID, voteType string) (*models.Vote, bool, error) {
	db := s.db.WithContext(ctx)
	v := models.Vote{PostID: postID, VoterID: voterID, VoteType: voteType}
	stamp(&v.ID, &v.CreatedAt)
	v.UpdatedAt = v.CreatedAt

	// The unique (post_id, voter_id) index decides the race: exactly one
	// concurrent insert wins, every other caller falls through to the update.
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&v)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &v, true, nil
	}

	err := db.Model(&models.Vote{}).
		Where("post_id = ? AND voter_id = ?", postID, voterID).
		Updates(map[string]any{"vote_type": voteType, "updated_at": now()}).Error
	if err != nil {
		return nil, false, err
	}
	var stored models.Vote
	if err := db.Where("post_id = ? AND voter_id = ?", postID, voterID).Take(&stored).Error; err != nil {
		return nil, false, translate(err)
	}
	return &stored, false, nil
}

func (s *GormStore) TallyVotes(ctx context.Context, postID string) (models.VoteTally, error) {
	var rows []struct {
		VoteType string
		N        int64
	}
	err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Select("vote_type, COUNT(*) AS n").
		Where("post_id = ?", postID).
		Group("vote_type").
		Scan(&rows).Error
	var t models.VoteTally
	for _, r := range rows {
		switch r.VoteType {
		case models.VoteUp:
			t.Upvotes = r.N
		case models.VoteDown:
			t.Downvotes = r.N
		}
	}
	return t, err
}

// --- conversations ---

func (s *GormStore) ConversationForPair(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	a, b := models.OrderedPair(userA, userB)
	c := models.Conversation{UserAID: a, UserBID: b}
	stamp(&c.ID, &c.CreatedAt)
	c.UpdatedAt = c.CreatedAt

	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&c).Error; err != nil {
		return nil, err
	}
	var stored models.Conversation
	if err := db.Where("user_a_id = ? AND user_b_id = ?", a, b).Take(&stored).Error; err != nil {
		return nil, translate(err)
	}
	return &stored, nil
}

func (s *GormStore) ConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	list := []models.Conversation{}
	err := s.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("updated_at DESC").Order("id DESC").
		Find(&list).Error
	return list, err
}

func (s *GormStore) CreateMessage(ctx context.Context, m *models.Message) error {
	stamp(&m.ID, &m.CreatedAt)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return translate(err)
		}
		res := tx.Model(&models.Conversation{}).Where("id = ?", m.ConversationID).
			Updates(map[string]any{
				"last_message_id": m.ID,
				"last_message_at": m.CreatedAt,
				"updated_at":      m.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) MessagesIn(ctx context.Context, conversationID string) ([]models.Message, error) {
	list := []models.Message{}
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}
