package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/toms-api/pkg/config"
)

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Tx is the subset of *sqlx.Tx the transaction coordinator relies on.
type Tx interface {
	sqlx.ExtContext
	Commit() error
	Rollback() error
}

// Beginner opens transactions for transaction groups.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// SQLXBeginner adapts *sqlx.DB to Beginner.
type SQLXBeginner struct {
	DB   *sqlx.DB
	Opts *sql.TxOptions
}

// Begin starts a transaction on the wrapped database.
func (b SQLXBeginner) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.DB.BeginTxx(ctx, b.Opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
