package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// Upload is one row of the uploads ledger: the remote target URL a file was
// delivered to and the local modification time recorded after the transfer
// succeeded. The sync skips a file whose current mtime still matches.
type Upload struct {
	URL       string    `gorm:"type:text;primaryKey"`
	Mtime     int64     `gorm:"type:bigint;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Upload) TableName() string { return "uploads" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(&Upload{})
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&Upload{})
}
