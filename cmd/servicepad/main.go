package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/servicepad/servicepad/internal/audit/domain"
	"github.com/servicepad/servicepad/internal/client"
	"github.com/servicepad/servicepad/internal/config"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
	paydomain "github.com/servicepad/servicepad/internal/payment/domain"
	"github.com/servicepad/servicepad/internal/sequence"
	"github.com/servicepad/servicepad/internal/server"
	"github.com/servicepad/servicepad/pkg/db"
	"github.com/servicepad/servicepad/pkg/log"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		server.Module,
		fx.Invoke(Migrate),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func Migrate(lc fx.Lifecycle, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return gdb.WithContext(ctx).AutoMigrate(
				&docdomain.Document{},
				&docdomain.LineItem{},
				&paydomain.Payment{},
				&auditdomain.Entry{},
				&client.Client{},
				sequence.Model(),
			)
		},
	})
}
