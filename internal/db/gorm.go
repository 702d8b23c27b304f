package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/book-nest/bookstore-back/internal/config"
)

type (
	GormForkedModel struct {
		ID        uint64 `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	User struct {
		GormForkedModel
		Email    string `gorm:"unique;not null"`
		Password string `gorm:"not null"`
		Token    string `gorm:"not null"`
		Books    []Book `gorm:"foreignKey:OwnerID"`
	}

	Book struct {
		GormForkedModel
		Title      string           `gorm:"not null"`
		AuthorName string           `gorm:"not null"`
		Price      decimal.Decimal  `gorm:"type:decimal(10,2);not null"`
		Discount   *decimal.Decimal `gorm:"type:decimal(5,2)"`
		OwnerID    *uint64
		Owner      *User
		Relations  []UserBookRelation `gorm:"foreignKey:BookID"`
	}

	// UserBookRelation holds one user's like/bookmark/rating state for one
	// book. The (user, book) pair is unique; first-mutation upserts rely on
	// that constraint.
	UserBookRelation struct {
		GormForkedModel
		UserID      uint64 `gorm:"not null;uniqueIndex:uidx_user_book"`
		BookID      uint64 `gorm:"not null;uniqueIndex:uidx_user_book"`
		User        User
		Book        Book
		Like        bool `gorm:"not null;default:false"`
		InBookmarks bool `gorm:"not null;default:false"`
		Rate        *int
	}
)

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Info,
		Colorful:                  true,
		IgnoreRecordNotFoundError: false,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Book{}); err != nil {
		return errors.Wrap(err, "migrate book")
	}
	if err := db.AutoMigrate(&UserBookRelation{}); err != nil {
		return errors.Wrap(err, "migrate user book relation")
	}
	return nil
}
