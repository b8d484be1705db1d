package core

import (
	"time"

	"github.com/telecare/consult/internal/domain"
)

// client pairs handshake identity with its transport endpoint.
type client struct {
	id       ConnID
	user     domain.UserID
	role     domain.Role
	conn     SignalConnection
	openedAt time.Time
}

func NewClient(id ConnID, user domain.UserID, role domain.Role, conn SignalConnection) Client {
	return &client{
		id:       id,
		user:     user,
		role:     role,
		conn:     conn,
		openedAt: time.Now(),
	}
}

func (c *client) ID() ConnID               { return c.id }
func (c *client) User() domain.UserID      { return c.user }
func (c *client) Role() domain.Role        { return c.role }
func (c *client) Signal() SignalConnection { return c.conn }

func (c *client) Anonymous() bool {
	return c.user == "" || !c.role.Valid()
}
