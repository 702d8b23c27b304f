package service

import (
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/book-nest/bookstore-back/internal/db"
)

type (
	// BookQuery is the full specification of a catalog listing: an optional
	// exact price filter, a substring search over title/author_name, and one
	// of the supported ordering keys.
	BookQuery struct {
		Price    *decimal.Decimal
		Search   string
		Ordering string
	}

	// BookAggregate is a book row joined with the values derived from its
	// user relations. Rating is nil when no relation carries a rate.
	BookAggregate struct {
		ID                 uint64
		Title              string
		AuthorName         string
		Price              decimal.Decimal
		OwnerID            *uint64
		LikesCount         int
		Rating             *decimal.Decimal
		PriceAfterDiscount decimal.Decimal
	}

	BookInput struct {
		Title      string
		AuthorName string
		Price      decimal.Decimal
		Discount   *decimal.Decimal
	}

	BookPatch struct {
		Title      *string
		AuthorName *string
		Price      *decimal.Decimal
		Discount   *decimal.Decimal
	}

	Catalog struct {
		db     *gorm.DB
		logger *zap.SugaredLogger
	}

	bookRow struct {
		ID         uint64
		Title      string
		AuthorName string
		Price      decimal.Decimal
		Discount   *decimal.Decimal
		OwnerID    *uint64
		LikesCount int
		RateSum    *int64
		RateCount  int64
	}
)

// orderClauses whitelists the ordering keys a query may use. Every variant
// breaks ties by id so that listings are deterministic.
var orderClauses = map[string][]string{
	"":             {"b.id ASC"},
	"price":        {"b.price ASC", "b.id ASC"},
	"-price":       {"b.price DESC", "b.id ASC"},
	"author_name":  {"b.author_name ASC", "b.id ASC"},
	"-author_name": {"b.author_name DESC", "b.id ASC"},
}

func NewCatalog(db *gorm.DB, l *zap.SugaredLogger) *Catalog {
	return &Catalog{
		db:     db,
		logger: l,
	}
}

// List returns all books matching q, each carrying its relation aggregates.
// The whole listing is a single grouped query over books joined with
// user_book_relations; no per-book round trips happen.
func (s *Catalog) List(q BookQuery) ([]BookAggregate, error) {
	builder := aggregateBuilder()

	if q.Price != nil {
		builder = builder.Where(squirrel.Eq{"b.price": *q.Price})
	}
	if tokens := strings.Fields(q.Search); len(tokens) != 0 {
		or := squirrel.Or{}
		for _, token := range tokens {
			pattern := "%" + strings.ToLower(token) + "%"
			or = append(or,
				squirrel.Expr("LOWER(b.title) LIKE ?", pattern),
				squirrel.Expr("LOWER(b.author_name) LIKE ?", pattern),
			)
		}
		builder = builder.Where(or)
	}

	order, ok := orderClauses[q.Ordering]
	if !ok {
		order = orderClauses[""]
	}
	builder = builder.OrderBy(order...)

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	rows := make([]bookRow, 0)
	res := s.db.Raw(sql, args...).Scan(&rows)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}

	aggregates := make([]BookAggregate, len(rows))
	for i := range rows {
		aggregates[i] = rows[i].aggregate()
	}
	return aggregates, nil
}

// Get returns a single book with its aggregates.
func (s *Catalog) Get(id uint64) (*BookAggregate, error) {
	sql, args, err := aggregateBuilder().Where(squirrel.Eq{"b.id": id}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	rows := make([]bookRow, 0)
	res := s.db.Raw(sql, args...).Scan(&rows)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "scan")
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	aggregate := rows[0].aggregate()
	return &aggregate, nil
}

// Create stores a new book owned by actor. The owner assignment is server
// controlled; whatever a client put in its payload never reaches this point.
func (s *Catalog) Create(actor *db.User, input BookInput) (*BookAggregate, error) {
	model := db.Book{
		Title:      input.Title,
		AuthorName: input.AuthorName,
		Price:      input.Price,
		Discount:   input.Discount,
		OwnerID:    &actor.ID,
	}

	res := s.db.Create(&model)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "create book")
	}

	return s.Get(model.ID)
}

// Update applies the supplied fields of patch to the book, provided actor
// passes the ownership policy.
func (s *Catalog) Update(actor *db.User, id uint64, patch BookPatch) (*BookAggregate, error) {
	book := db.Book{}
	if err := s.db.First(&book, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get book")
	}

	if !CanModify(actor, &book) {
		return nil, ErrPermissionDenied
	}

	updates := map[string]interface{}{}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.AuthorName != nil {
		updates["author_name"] = *patch.AuthorName
	}
	if patch.Price != nil {
		updates["price"] = *patch.Price
	}
	if patch.Discount != nil {
		updates["discount"] = *patch.Discount
	}

	if len(updates) != 0 {
		if err := s.db.Model(&book).Updates(updates).Error; err != nil {
			return nil, errors.Wrap(err, "update book")
		}
	}

	return s.Get(book.ID)
}

// Delete removes the book under the same ownership policy as Update.
func (s *Catalog) Delete(actor *db.User, id uint64) error {
	book := db.Book{}
	if err := s.db.First(&book, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "get book")
	}

	if !CanModify(actor, &book) {
		return ErrPermissionDenied
	}

	if err := s.db.Delete(&db.Book{}, id).Error; err != nil {
		return errors.Wrap(err, "delete book")
	}
	return nil
}

// aggregateBuilder is the one aggregation query: likes counted from rows with
// like=true, the rating mean carried as sum/count so the division happens in
// exact decimal arithmetic on the way out.
func aggregateBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select(
			"b.id", "b.title", "b.author_name", "b.price", "b.discount", "b.owner_id",
			`COUNT(CASE WHEN r."like" THEN 1 END) AS likes_count`,
			"SUM(r.rate) AS rate_sum",
			"COUNT(r.rate) AS rate_count",
		).
		From("books b").
		LeftJoin("user_book_relations r ON r.book_id = b.id").
		GroupBy("b.id", "b.title", "b.author_name", "b.price", "b.discount", "b.owner_id")
}

func (r bookRow) aggregate() BookAggregate {
	a := BookAggregate{
		ID:                 r.ID,
		Title:              r.Title,
		AuthorName:         r.AuthorName,
		Price:              r.Price,
		OwnerID:            r.OwnerID,
		LikesCount:         r.LikesCount,
		PriceAfterDiscount: r.Price,
	}
	if r.Discount != nil {
		a.PriceAfterDiscount = r.Price.Sub(*r.Discount)
	}
	if r.RateCount > 0 && r.RateSum != nil {
		rating := decimal.NewFromInt(*r.RateSum).DivRound(decimal.NewFromInt(r.RateCount), 2)
		a.Rating = &rating
	}
	return a
}
