package service_test

import (
	"path/filepath"
	"testing"

	"github.com/qawatake/fixify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/book-nest/bookstore-back/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	return conn
}

func newTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func userFixture(email string) *fixify.Model[db.User] {
	return fixify.NewModel(&db.User{
		Email:    email,
		Password: "hash",
		Token:    email + "-token",
	})
}

func bookFixture(title, author, price string, discount *string) *fixify.Model[db.Book] {
	book := &db.Book{
		Title:      title,
		AuthorName: author,
		Price:      decimal.RequireFromString(price),
	}
	if discount != nil {
		d := decimal.RequireFromString(*discount)
		book.Discount = &d
	}
	return fixify.NewModel(book)
}

func relationFixture(like bool, rate *int) *fixify.Model[db.UserBookRelation] {
	return fixify.NewModel(&db.UserBookRelation{
		Like: like,
		Rate: rate,
	},
		fixify.ConnectorFunc(func(t testing.TB, r *db.UserBookRelation, u *db.User) {
			r.UserID = u.ID
		}),
		fixify.ConnectorFunc(func(t testing.TB, r *db.UserBookRelation, b *db.Book) {
			r.BookID = b.ID
		}),
	)
}

func createAll(t *testing.T, conn *gorm.DB, f *fixify.Fixture) {
	t.Helper()
	f.Apply(func(model any) error {
		return conn.Create(model).Error
	})
}

func ptr[T any](v T) *T {
	return &v
}
