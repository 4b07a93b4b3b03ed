package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attachkit/attachkit/internal/model"
)

// PG is the Postgres Datastore.
type PG struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPG ensures the attachments table exists and returns the datastore.
func NewPG(ctx context.Context, pool *pgxpool.Pool) (*PG, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS attachments (
			id              BIGSERIAL PRIMARY KEY,
			filename        TEXT NOT NULL,
			content_type    TEXT NOT NULL,
			size            BIGINT NOT NULL,
			width           INT,
			height          INT,
			storage_key     TEXT NOT NULL DEFAULT '',
			parent_id       BIGINT REFERENCES attachments(id) ON DELETE CASCADE,
			thumbnail_label TEXT,
			state           TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			UNIQUE (parent_id, thumbnail_label)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure attachments table: %w", err)
	}
	return &PG{pool: pool}, nil
}

func (p *PG) Commit(ctx context.Context, a *model.Attachment) error {
	now := time.Now().UTC()
	a.UpdatedAt = now
	if a.ID == 0 {
		a.CreatedAt = now
		row := p.pool.QueryRow(ctx, `
			INSERT INTO attachments
				(filename, content_type, size, width, height, storage_key, parent_id, thumbnail_label, state, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING id
		`, a.Filename, a.ContentType, a.Size, nullInt(a.Width), nullInt(a.Height),
			a.StorageKey, nullID(a.ParentID), nullStr(a.ThumbnailLabel), a.State, a.CreatedAt, a.UpdatedAt)
		if err := row.Scan(&a.ID); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE attachments
		SET filename=$1, content_type=$2, size=$3, width=$4, height=$5,
			storage_key=$6, state=$7, updated_at=$8
		WHERE id=$9
	`, a.Filename, a.ContentType, a.Size, nullInt(a.Width), nullInt(a.Height),
		a.StorageKey, a.State, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update attachment: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, filename, content_type, size,
		COALESCE(width, 0), COALESCE(height, 0),
		storage_key, COALESCE(parent_id, 0), COALESCE(thumbnail_label, ''),
		state, created_at, updated_at
	FROM attachments`

func scanAttachment(row pgx.Row) (*model.Attachment, error) {
	var a model.Attachment
	err := row.Scan(&a.ID, &a.Filename, &a.ContentType, &a.Size,
		&a.Width, &a.Height, &a.StorageKey, &a.ParentID, &a.ThumbnailLabel,
		&a.State, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan attachment: %w", err)
	}
	return &a, nil
}

func (p *PG) Get(ctx context.Context, id int64) (*model.Attachment, error) {
	return scanAttachment(p.pool.QueryRow(ctx, selectColumns+` WHERE id=$1`, id))
}

func (p *PG) FindOrCreateChild(ctx context.Context, parentID int64, label string) (*model.Attachment, error) {
	a, err := scanAttachment(p.pool.QueryRow(ctx,
		selectColumns+` WHERE parent_id=$1 AND thumbnail_label=$2`, parentID, label))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &model.Attachment{
		ParentID:       parentID,
		ThumbnailLabel: label,
		State:          model.StateNew,
	}, nil
}

func (p *PG) Children(ctx context.Context, parentID int64) ([]*model.Attachment, error) {
	rows, err := p.pool.Query(ctx, selectColumns+` WHERE parent_id=$1 ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()
	var children []*model.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, a)
	}
	return children, rows.Err()
}

func (p *PG) DeleteRow(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM attachments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt(v int) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(v), Valid: v != 0}
}

func nullID(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullStr(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
