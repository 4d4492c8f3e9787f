package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
)

const (
	postgresObjectsTableName = "board_objects"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresClient implements Client directly against a postgres database,
// for deployments that skip the board service and share a database instead.
// The table is created on first use.
type PostgresClient struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresClient returns a client for dsn. The connection is not opened
// until the first call.
func NewPostgresClient(dsn string) (*PostgresClient, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: dsn is required", ErrInvalidInput)
	}
	return &PostgresClient{
		dsn:       dsn,
		tableName: postgresObjectsTableName,
		openDB:    sql.Open,
	}, nil
}

func (c *PostgresClient) ensureReady() error {
	c.initOnce.Do(func() {
		db, err := c.openDB("postgres", c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		createTableQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				board_id TEXT NOT NULL,
				type TEXT NOT NULL,
				x DOUBLE PRECISION NOT NULL DEFAULT 0,
				y DOUBLE PRECISION NOT NULL DEFAULT 0,
				width DOUBLE PRECISION NOT NULL DEFAULT 0,
				height DOUBLE PRECISION NOT NULL DEFAULT 0,
				rotation DOUBLE PRECISION NOT NULL DEFAULT 0,
				text TEXT NOT NULL DEFAULT '',
				color TEXT NOT NULL DEFAULT '',
				z_index INTEGER NOT NULL DEFAULT 0,
				properties JSONB,
				created_by TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL DEFAULT ''
			)`, postgresQuoteIdentifier(c.tableName))
		if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		indexName := c.tableName + "_board_id_idx"
		createIndexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (board_id)",
			postgresQuoteIdentifier(indexName),
			postgresQuoteIdentifier(c.tableName),
		)
		if _, err := db.ExecContext(ctx, createIndexQuery); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		c.db = db
	})
	return c.initErr
}

const postgresObjectColumns = "id, board_id, type, x, y, width, height, rotation, text, color, z_index, properties, created_by, created_at, updated_at"

// FetchAll returns every object on the board, ordered by creation time then
// id so repeated fetches are stable.
func (c *PostgresClient) FetchAll(ctx context.Context, boardID string) ([]board.Object, error) {
	if strings.TrimSpace(boardID) == "" {
		return nil, fmt.Errorf("%w: board id is required", ErrInvalidInput)
	}
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE board_id = $1 ORDER BY created_at ASC, id ASC",
		postgresObjectColumns,
		postgresQuoteIdentifier(c.tableName),
	)
	rows, err := c.db.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := make([]board.Object, 0)
	for rows.Next() {
		obj, scanErr := scanObject(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// Create upserts a full object keyed on id, so crash-recovery replays are
// safe.
func (c *PostgresClient) Create(ctx context.Context, obj board.Object) error {
	if strings.TrimSpace(obj.ID) == "" || strings.TrimSpace(obj.BoardID) == "" {
		return fmt.Errorf("%w: object id and board id are required", ErrInvalidInput)
	}
	if err := c.ensureReady(); err != nil {
		return err
	}
	properties, err := marshalProperties(obj.Properties)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			board_id = EXCLUDED.board_id,
			type = EXCLUDED.type,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			rotation = EXCLUDED.rotation,
			text = EXCLUDED.text,
			color = EXCLUDED.color,
			z_index = EXCLUDED.z_index,
			properties = EXCLUDED.properties,
			created_by = EXCLUDED.created_by,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		postgresQuoteIdentifier(c.tableName),
		postgresObjectColumns,
	)
	_, err = c.db.ExecContext(ctx, query,
		obj.ID, obj.BoardID, string(obj.Type),
		obj.X, obj.Y, obj.Width, obj.Height, obj.Rotation,
		obj.Text, obj.Color, obj.ZIndex,
		properties, obj.CreatedBy, obj.CreatedAt, obj.UpdatedAt,
	)
	return err
}

// Patch loads the object, merges changes over it, and writes it back inside
// one transaction. Returns ErrNotFound when the id is unknown.
func (c *PostgresClient) Patch(ctx context.Context, objectID string, changes map[string]any) error {
	if strings.TrimSpace(objectID) == "" {
		return fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	if len(changes) == 0 {
		return nil
	}
	if err := c.ensureReady(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	selectQuery := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1 FOR UPDATE",
		postgresObjectColumns,
		postgresQuoteIdentifier(c.tableName),
	)
	row := tx.QueryRowContext(ctx, selectQuery, objectID)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("patch %s: %w", objectID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	merged := board.ApplyChanges(obj, changes)
	properties, err := marshalProperties(merged.Properties)
	if err != nil {
		return err
	}
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET
			board_id = $2,
			type = $3,
			x = $4,
			y = $5,
			width = $6,
			height = $7,
			rotation = $8,
			text = $9,
			color = $10,
			z_index = $11,
			properties = $12,
			created_by = $13,
			created_at = $14,
			updated_at = $15
		WHERE id = $1`, postgresQuoteIdentifier(c.tableName))
	if _, err := tx.ExecContext(ctx, updateQuery,
		objectID, merged.BoardID, string(merged.Type),
		merged.X, merged.Y, merged.Width, merged.Height, merged.Rotation,
		merged.Text, merged.Color, merged.ZIndex,
		properties, merged.CreatedBy, merged.CreatedAt, merged.UpdatedAt,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Delete removes an object. Returns ErrNotFound when the id is unknown.
func (c *PostgresClient) Delete(ctx context.Context, objectID string) error {
	if strings.TrimSpace(objectID) == "" {
		return fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	if err := c.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", postgresQuoteIdentifier(c.tableName))
	result, err := c.db.ExecContext(ctx, query, objectID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("delete %s: %w", objectID, ErrNotFound)
	}
	return nil
}

// Close closes the database handle when one was opened.
func (c *PostgresClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (board.Object, error) {
	var (
		obj        board.Object
		typ        string
		properties sql.NullString
	)
	err := row.Scan(
		&obj.ID, &obj.BoardID, &typ,
		&obj.X, &obj.Y, &obj.Width, &obj.Height, &obj.Rotation,
		&obj.Text, &obj.Color, &obj.ZIndex,
		&properties, &obj.CreatedBy, &obj.CreatedAt, &obj.UpdatedAt,
	)
	if err != nil {
		return board.Object{}, err
	}
	obj.Type = board.ObjectType(typ)
	if properties.Valid && properties.String != "" {
		if err := json.Unmarshal([]byte(properties.String), &obj.Properties); err != nil {
			return board.Object{}, fmt.Errorf("decode properties for %s: %w", obj.ID, err)
		}
	}
	return obj, nil
}

func marshalProperties(properties map[string]any) (any, error) {
	if len(properties) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return string(data), nil
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
