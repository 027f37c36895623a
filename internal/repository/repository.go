package repository

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vyper-compiler-api/internal/jobs"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

// Client is a jobs.Store backed by a relational database.
type Client struct {
	DB *gorm.DB
}

func NewRepository(driver string, connection string) (*Client, error) {
	var dialector gorm.Dialector

	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(connection)
	case DriverSqlite:
		dialector = sqlite.Open(connection)
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})

	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", driver)
	}

	if driver == DriverSqlite {
		// sqlite allows a single writer, concurrent writes would fail with
		// SQLITE_BUSY instead of waiting.
		sqlDB, dbErr := db.DB()

		if dbErr != nil {
			return nil, errors.Wrap(dbErr, "failed to get database handle")
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Execution{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate compilations table")
	}

	return &Client{DB: db}, nil
}

func (c *Client) Put(ctx context.Context, record *jobs.Record) error {
	execution, err := fromRecord(record)

	if err != nil {
		return err
	}

	result := c.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(execution)

	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to insert compilation %s", record.ID)
	}

	if result.RowsAffected == 0 {
		return errors.Wrap(jobs.ErrDuplicate, record.ID.String())
	}

	return nil
}

func (c *Client) Complete(ctx context.Context, id uuid.UUID, outcome *jobs.Outcome, httpStatus int) error {
	data, err := encodeOutcome(outcome)

	if err != nil {
		return err
	}

	result := c.DB.WithContext(ctx).
		Model(&Execution{}).
		Where("id = ? AND state = ?", id.String(), jobs.Pending.String()).
		Updates(map[string]any{
			"state":        outcome.State().String(),
			"http_status":  httpStatus,
			"outcome":      data,
			"completed_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to complete compilation %s", id)
	}

	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := c.Get(ctx, id); err != nil {
		return err
	}

	return errors.Wrap(jobs.ErrAlreadyComplete, id.String())
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*jobs.Record, error) {
	var execution Execution

	err := c.DB.WithContext(ctx).First(&execution, "id = ?", id.String()).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(jobs.ErrNotFound, id.String())
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to get compilation %s", id)
	}

	return execution.toRecord()
}

func (c *Client) Close() error {
	db, err := c.DB.DB()

	if err != nil {
		return errors.Wrap(err, "failed to get database handle")
	}

	return db.Close()
}
