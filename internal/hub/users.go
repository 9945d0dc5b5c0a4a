package hub

import (
	"context"
	"fmt"

	"github.com/roach88/canvassync/internal/canvas"
)

// User is one account allowed to connect.
type User struct {
	Token    string
	UserID   string
	Name     string
	CanvasID string
}

func (u User) profile() *canvas.Partner {
	return &canvas.Partner{ID: u.UserID, Name: u.Name}
}

// Directory resolves bearer tokens to users.
type Directory struct {
	byToken map[string]User
	users   []User
}

// NewDirectory indexes users by token. Tokens and user ids must be
// non-empty and unique.
func NewDirectory(users []User) (*Directory, error) {
	d := &Directory{byToken: make(map[string]User, len(users))}
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u.Token == "" || u.UserID == "" {
			return nil, fmt.Errorf("user %q: token and user id are required", u.UserID)
		}
		if u.CanvasID == "" {
			u.CanvasID = "default"
		}
		if _, dup := d.byToken[u.Token]; dup {
			return nil, fmt.Errorf("user %q: duplicate token", u.UserID)
		}
		if seen[u.UserID] {
			return nil, fmt.Errorf("duplicate user id %q", u.UserID)
		}
		seen[u.UserID] = true
		d.byToken[u.Token] = u
		d.users = append(d.users, u)
	}
	return d, nil
}

// Authenticate returns the user owning token.
func (d *Directory) Authenticate(token string) (User, bool) {
	if token == "" {
		return User{}, false
	}
	u, ok := d.byToken[token]
	return u, ok
}

// PartnerOf returns the first other user on u's canvas, or nil.
func (d *Directory) PartnerOf(u User) *canvas.Partner {
	for _, other := range d.users {
		if other.CanvasID == u.CanvasID && other.UserID != u.UserID {
			return other.profile()
		}
	}
	return nil
}

type userKey struct{}

func withUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFrom(ctx context.Context) User {
	u, _ := ctx.Value(userKey{}).(User)
	return u
}
