package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/book-nest/bookstore-back/internal/config"
	"github.com/book-nest/bookstore-back/internal/db"
	"github.com/book-nest/bookstore-back/internal/service"
)

type (
	UserReq struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=12"`
	}

	TokenResp struct {
		Token string `json:"token"`
	}

	BookListReq struct {
		Price    *string `query:"price"`
		Search   string  `query:"search"`
		Ordering string  `query:"ordering" validate:"omitempty,oneof=price -price author_name -author_name"`
	}

	BookCreateReq struct {
		Title      string  `json:"title" validate:"required"`
		AuthorName string  `json:"author_name" validate:"required"`
		Price      string  `json:"price" validate:"required"`
		Discount   *string `json:"discount"`
	}

	BookUpdateReq struct {
		Title      *string `json:"title"`
		AuthorName *string `json:"author_name"`
		Price      *string `json:"price"`
		Discount   *string `json:"discount"`
	}

	// BookResp renders decimal fields as fixed-point strings so clients never
	// see binary rounding drift. annotated_like duplicates likes_count for
	// wire compatibility; both come from the same aggregation.
	BookResp struct {
		ID                 uint64  `json:"id"`
		Title              string  `json:"title"`
		AuthorName         string  `json:"author_name"`
		Price              string  `json:"price"`
		LikesCount         int     `json:"likes_count"`
		AnnotatedLike      int     `json:"annotated_like"`
		Rating             *string `json:"rating"`
		PriceAfterDiscount string  `json:"price_after_discount"`
	}

	RelationReq struct {
		Like        *bool `json:"like"`
		InBookmarks *bool `json:"in_bookmarks"`
		Rate        *int  `json:"rate" validate:"omitempty,min=1,max=5"`
	}

	RelationResp struct {
		Book        uint64 `json:"book"`
		Like        bool   `json:"like"`
		InBookmarks bool   `json:"in_bookmarks"`
		Rate        *int   `json:"rate"`
	}

	CustomValidator struct {
		validator *validator.Validate
	}

	HTTPServer struct {
		auth      *service.Auth
		catalog   *service.Catalog
		relations *service.Relations
		logger    *zap.SugaredLogger
	}
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, auth *service.Auth, catalog *service.Catalog, relations *service.Relations, logger *zap.SugaredLogger) *HTTPServer {
	e := echo.New()

	instance := HTTPServer{
		auth:      auth,
		catalog:   catalog,
		relations: relations,
		logger:    logger,
	}

	e.POST("/auth/register", instance.Register)
	e.POST("/auth/login", instance.Login)

	bookG := e.Group("/books")
	bookG.GET("", instance.BookList)
	bookG.GET("/:id", instance.BookGet)
	bookG.POST("", instance.BookCreate)
	bookG.PUT("/:id", instance.BookUpdate)
	bookG.PATCH("/:id", instance.BookUpdate)
	bookG.DELETE("/:id", instance.BookDelete)

	e.PATCH("/relations/:book_id", instance.RelationUpdate)

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyDump(func(c echo.Context, reqBody, resBody []byte) {
		if len(reqBody) != 0 {
			logger.Debugw("request body", "path", c.Path(), "body", string(censorBody(reqBody)))
		}
	}))

	e.Use(instance.AuthMiddleware)

	e.Validator = &CustomValidator{validator: validator.New()}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				listen := cfg.Host + ":" + cfg.Port
				if err := e.Start(listen); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return &instance
}

func (s *HTTPServer) Register(c echo.Context) error {
	u := UserReq{}
	if err := BindAndValidate(c, &u); err != nil {
		return err
	}

	token, err := s.auth.Register(u.Email, u.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &TokenResp{Token: token})
}

func (s *HTTPServer) Login(c echo.Context) error {
	u := UserReq{}
	if err := BindAndValidate(c, &u); err != nil {
		return err
	}

	token, err := s.auth.Login(u.Email, u.Password)
	if err != nil {
		cause := errors.Cause(err)
		if cause == service.ErrLoginUserNotFound || cause == service.ErrLoginPasswordDoesNotMatch {
			return c.NoContent(http.StatusUnauthorized)
		}
		return err
	}
	return c.JSON(http.StatusOK, &TokenResp{Token: token})
}

func (s *HTTPServer) BookList(c echo.Context) error {
	req := BookListReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	query := service.BookQuery{
		Search:   req.Search,
		Ordering: req.Ordering,
	}
	if req.Price != nil {
		price, err := parseDecimal(*req.Price)
		if err != nil {
			return err
		}
		query.Price = price
	}

	books, err := s.catalog.List(query)
	if err != nil {
		return err
	}

	resp := make([]BookResp, len(books))
	for i := range books {
		resp[i] = toBookResp(&books[i])
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) BookGet(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}

	book, err := s.catalog.Get(id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toBookResp(book))
}

func (s *HTTPServer) BookCreate(c echo.Context) error {
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := BookCreateReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	price, err := parseDecimal(req.Price)
	if err != nil {
		return err
	}
	input := service.BookInput{
		Title:      req.Title,
		AuthorName: req.AuthorName,
		Price:      *price,
	}
	if req.Discount != nil {
		discount, err := parseDecimal(*req.Discount)
		if err != nil {
			return err
		}
		input.Discount = discount
	}

	book, err := s.catalog.Create(user, input)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, toBookResp(book))
}

func (s *HTTPServer) BookUpdate(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := BookUpdateReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	patch := service.BookPatch{
		Title:      req.Title,
		AuthorName: req.AuthorName,
	}
	if req.Price != nil {
		price, err := parseDecimal(*req.Price)
		if err != nil {
			return err
		}
		patch.Price = price
	}
	if req.Discount != nil {
		discount, err := parseDecimal(*req.Discount)
		if err != nil {
			return err
		}
		patch.Discount = discount
	}

	book, err := s.catalog.Update(user, id, patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toBookResp(book))
}

func (s *HTTPServer) BookDelete(c echo.Context) error {
	id, err := GetAndParseParam(c, "id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	if err := s.catalog.Delete(user, id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) RelationUpdate(c echo.Context) error {
	bookID, err := GetAndParseParam(c, "book_id")
	if err != nil {
		return err
	}
	user, err := GetUserFromContext(c)
	if err != nil {
		return err
	}

	req := RelationReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	relation, err := s.relations.Upsert(user, bookID, service.RelationPatch{
		Like:        req.Like,
		InBookmarks: req.InBookmarks,
		Rate:        req.Rate,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, RelationResp{
		Book:        relation.BookID,
		Like:        relation.Like,
		InBookmarks: relation.InBookmarks,
		Rate:        relation.Rate,
	})
}

// AuthMiddleware resolves the X-Token header to a user. Catalog reads stay
// open to anonymous callers; every write requires a valid token.
func (s *HTTPServer) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if isPublicRoute(c) {
			return next(c)
		}
		token := ""
		for key, values := range c.Request().Header {
			if strings.ToLower(key) == "x-token" {
				token = values[0]
				break
			}
		}
		if token == "" {
			return c.NoContent(http.StatusUnauthorized)
		}
		user, err := s.auth.UserByToken(token)
		if err != nil {
			c.Logger().Error(errors.Wrap(err, "find user in db"))
			return c.NoContent(http.StatusUnauthorized)
		}

		c.Set("user", user)
		return next(c)
	}
}

func isPublicRoute(c echo.Context) bool {
	switch c.Path() {
	case "/auth/register", "/auth/login", "/ping":
		return true
	case "/books", "/books/:id":
		return c.Request().Method == http.MethodGet
	}
	return false
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func BindAndValidate(c echo.Context, v interface{}) error {
	var err error
	if err = c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err = c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetUserFromContext(c echo.Context) (*db.User, error) {
	user, _ := c.Get("user").(*db.User)
	if user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized)
	}
	return user, nil
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func GetAndParseParam(c echo.Context, name string) (uint64, error) {
	v, e := GetParam(c, name)
	if e != nil {
		return 0, e
	}
	vv, e := strconv.ParseUint(v, 10, 64)
	if e != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return vv, nil
}

func parseDecimal(s string) (*decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid decimal value: "+s)
	}
	return &d, nil
}

func mapServiceError(err error) error {
	switch errors.Cause(err) {
	case service.ErrNotFound:
		return echo.NewHTTPError(http.StatusNotFound)
	case service.ErrPermissionDenied:
		return echo.NewHTTPError(http.StatusForbidden, service.PermissionDeniedMessage)
	}
	return err
}

func toBookResp(b *service.BookAggregate) BookResp {
	resp := BookResp{
		ID:                 b.ID,
		Title:              b.Title,
		AuthorName:         b.AuthorName,
		Price:              b.Price.StringFixed(2),
		LikesCount:         b.LikesCount,
		AnnotatedLike:      b.LikesCount,
		PriceAfterDiscount: b.PriceAfterDiscount.StringFixed(2),
	}
	if b.Rating != nil {
		rating := b.Rating.StringFixed(2)
		resp.Rating = &rating
	}
	return resp
}

// censorBody blanks the password field of a JSON payload before it reaches
// the request log.
func censorBody(b []byte) []byte {
	body := map[string]interface{}{}
	if err := json.Unmarshal(b, &body); err != nil {
		return b
	}
	if _, ok := body["password"]; !ok {
		return b
	}
	body["password"] = "$censored"
	censored, err := json.Marshal(body)
	if err != nil {
		return b
	}
	return censored
}
