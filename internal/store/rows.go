package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DetailRow is one classified record derived from a CSV line.
type DetailRow struct {
	ID      int64  `db:"id" json:"id"`
	Details string `db:"Details" json:"Details"`
	Value   string `db:"Value" json:"Value"`
	Status  string `db:"Status" json:"Status"`
}

// ChannelRow describes a named hardware channel. Rows are populated outside
// the upload path.
type ChannelRow struct {
	ID      int64  `db:"id" json:"id"`
	Channel string `db:"Channel" json:"Channel"`
	Name    string `db:"Name" json:"Name"`
	Status  string `db:"Status" json:"Status"`
}

// NewDetail carries the columns of a detail row before it has an id.
type NewDetail struct {
	Details string
	Value   string
	Status  string
}

func (s *Store) ListDetails(ctx context.Context) ([]DetailRow, error) {
	rows := []DetailRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT id, COALESCE(Details, '') AS Details, COALESCE(Value, '') AS Value, COALESCE(Status, '') AS Status FROM DetailRow ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select details: %w", err)
	}
	return rows, nil
}

func (s *Store) ListChannels(ctx context.Context) ([]ChannelRow, error) {
	rows := []ChannelRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT id, COALESCE(Channel, '') AS Channel, COALESCE(Name, '') AS Name, COALESCE(Status, '') AS Status FROM ChannelRow ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select channels: %w", err)
	}
	return rows, nil
}

// InsertDetail appends a single detail row and returns its id.
func (s *Store) InsertDetail(ctx context.Context, d NewDetail) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO DetailRow (Details, Value, Status) VALUES (?, ?, ?)`, d.Details, d.Value, d.Status)
	if err != nil {
		return 0, fmt.Errorf("insert detail: %w", err)
	}
	return res.LastInsertId()
}

// DeleteDetail removes the row with id and reports how many rows matched.
// A missing id is not an error.
func (s *Store) DeleteDetail(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM DetailRow WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete detail %d: %w", id, err)
	}
	return res.RowsAffected()
}

func (s *Store) InsertChannel(ctx context.Context, c ChannelRow) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO ChannelRow (Channel, Name, Status) VALUES (?, ?, ?)`, c.Channel, c.Name, c.Status)
	if err != nil {
		return 0, fmt.Errorf("insert channel: %w", err)
	}
	return res.LastInsertId()
}

// ReplaceDetails clears DetailRow and ChannelRow and inserts rows in order,
// all inside one transaction. On error nothing changes.
func (s *Store) ReplaceDetails(ctx context.Context, rows []NewDetail) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM DetailRow`); err != nil {
			return fmt.Errorf("clear details: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ChannelRow`); err != nil {
			return fmt.Errorf("clear channels: %w", err)
		}
		stmt, err := tx.PreparexContext(ctx, `INSERT INTO DetailRow (Details, Value, Status) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()
		for i, d := range rows {
			if _, err := stmt.ExecContext(ctx, d.Details, d.Value, d.Status); err != nil {
				return fmt.Errorf("insert staged row %d: %w", i+1, err)
			}
		}
		return nil
	})
}
