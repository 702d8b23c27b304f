package service

import (
	"github.com/book-nest/bookstore-back/internal/db"
)

// CanModify reports whether user may mutate book. Unowned (legacy) books are
// writable by any authenticated user; owned books only by their owner. A nil
// user is an anonymous caller and may modify nothing.
func CanModify(user *db.User, book *db.Book) bool {
	if user == nil {
		return false
	}
	if book.OwnerID == nil {
		return true
	}
	return *book.OwnerID == user.ID
}
