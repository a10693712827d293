package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ventelive/livebridge/consumer"
)

// CustomerStore implements consumer.CustomerStore on Postgres.
type CustomerStore struct {
	DB *sql.DB
}

// GetByPlatformID returns the customer for a normalized platform id, or
// nil when none exists.
func (s *CustomerStore) GetByPlatformID(ctx context.Context, platformID string) (*consumer.Customer, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, platform_id, COALESCE(display_name,''), COALESCE(phone,''), platform_sourced FROM customers WHERE platform_id=$1`, platformID)
	var c consumer.Customer
	err := row.Scan(&c.ID, &c.PlatformID, &c.DisplayName, &c.Phone, &c.PlatformSourced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("customer lookup: %w", err)
	}
	return &c, nil
}

// Create inserts a new customer record. A concurrent insert of the same
// platform id is treated as success; the existing row wins.
func (s *CustomerStore) Create(ctx context.Context, c *consumer.Customer) error {
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO customers (platform_id, display_name, phone, platform_sourced, created_at)
		 VALUES ($1,$2,$3,$4,NOW())
		 ON CONFLICT (platform_id) DO UPDATE SET updated_at=NOW()
		 RETURNING id`,
		c.PlatformID, c.DisplayName, c.Phone, c.PlatformSourced).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("customer create: %w", err)
	}
	return nil
}
