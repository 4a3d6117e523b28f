// Package client exposes the minimal client lookup the engine needs to
// address confirmations. Client management itself lives outside this core.
package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("client_not_found")

type Client struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     string       `gorm:"type:text" json:"email"`
	Phone     string       `gorm:"type:text" json:"phone"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Client) TableName() string { return "clients" }

// Directory resolves contact details for a client id.
type Directory interface {
	Lookup(ctx context.Context, id snowflake.ID) (Client, error)
}

var Module = fx.Module("client",
	fx.Provide(NewDirectory),
)

type directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) Directory {
	return &directory{db: db}
}

func (d *directory) Lookup(ctx context.Context, id snowflake.ID) (Client, error) {
	var c Client
	err := d.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Client{}, ErrNotFound
		}
		return Client{}, err
	}
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	return c, nil
}
