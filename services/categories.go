package services

import (
	"context"
	"errors"
	"strings"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

type CategoryService struct {
	store store.Categories
}

func NewCategoryService(s store.Categories) *CategoryService {
	return &CategoryService{store: s}
}

func (s *CategoryService) Create(ctx context.Context, name, description string) (*models.Category, error) {
	name = utils.StripTags(name)
	if name == "" {
		return nil, utils.BadRequest("category name is required")
	}
	if len([]rune(name)) > 64 {
		return nil, utils.BadRequest("category name is too long")
	}
	c := &models.Category{Name: name, Description: utils.StripTags(description)}
	err := s.store.CreateCategory(ctx, c)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, utils.Conflict("category already exists")
	}
	if err != nil {
		return nil, utils.ServerError("failed to create category", err)
	}
	return c, nil
}

func (s *CategoryService) List(ctx context.Context) ([]models.Category, error) {
	list, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, utils.ServerError("failed to load categories", err)
	}
	return list, nil
}

// Exists fails with NotFound unless every id names a category.
func (s *CategoryService) Exists(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return utils.BadRequest("category id is required")
		}
		_, err := s.store.CategoryByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return utils.NotFound("category not found")
		}
		if err != nil {
			return utils.ServerError("failed to load category", err)
		}
	}
	return nil
}
