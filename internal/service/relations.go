package service

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/book-nest/bookstore-back/internal/db"
)

type (
	// RelationPatch carries the fields of an upsert request that were
	// actually present in the payload.
	RelationPatch struct {
		Like        *bool
		InBookmarks *bool
		Rate        *int
	}

	Relations struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
	}
)

func NewRelations(db *gorm.DB, l *zap.SugaredLogger) *Relations {
	return &Relations{
		db:     db,
		logger: l,
	}
}

// Upsert looks up or creates the (actor, book) relation and applies patch to
// it. The create path is an insert with ON CONFLICT DO NOTHING against the
// (user_id, book_id) unique index followed by a fetch, so two concurrent
// first mutations converge on a single row.
func (s *Relations) Upsert(actor *db.User, bookID uint64, patch RelationPatch) (*db.UserBookRelation, error) {
	if err := s.db.First(&db.Book{}, bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get book")
	}

	relation := db.UserBookRelation{
		UserID: actor.ID,
		BookID: bookID,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoNothing: true,
	}).Create(&relation)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "create relation")
	}

	relation = db.UserBookRelation{}
	err := s.db.Where("user_id = ? AND book_id = ?", actor.ID, bookID).First(&relation).Error
	if err != nil {
		return nil, errors.Wrap(err, "get relation")
	}

	updates := map[string]interface{}{}
	if patch.Like != nil {
		updates["like"] = *patch.Like
	}
	if patch.InBookmarks != nil {
		updates["in_bookmarks"] = *patch.InBookmarks
	}
	if patch.Rate != nil {
		updates["rate"] = *patch.Rate
	}

	if len(updates) != 0 {
		if err := s.db.Model(&relation).Updates(updates).Error; err != nil {
			return nil, errors.Wrap(err, "update relation")
		}
	}

	return &relation, nil
}
