package db

import (
	"encoding/base64"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// Cursor is a keyset position in a listing ordered by (timestamp DESC, id DESC).
type Cursor struct {
	At time.Time
	ID string
}

// Token encodes c as an opaque page token. The timestamp keeps its offset so
// that text-backed time columns compare equal on the next page.
func (c Cursor) Token() string {
	raw := c.At.Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Cursor.Token. An empty token is
// the zero cursor.
func ParseCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errs.InvalidArgument("invalid page token")
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, errs.InvalidArgument("invalid page token")
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, errs.InvalidArgument("invalid page token")
	}
	return Cursor{At: t, ID: id}, nil
}

// After orders q newest first by column then id and, for a non-zero c,
// restricts it to rows past c.
func (c Cursor) After(q *gorm.DB, column string) *gorm.DB {
	q = q.Order(column + " DESC").Order("id DESC")
	if c.ID == "" {
		return q
	}
	return q.Where("("+column+" < ?) OR ("+column+" = ? AND id < ?)", c.At, c.At, c.ID)
}
