package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/livepage/livepage/internal/database"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres stores every collection in the documents table as JSONB.
type Postgres struct {
	db   database.DBTX
	feed Feed
	now  func() time.Time
}

func NewPostgres(db database.DBTX, feed Feed) *Postgres {
	return &Postgres{db: db, feed: feed, now: time.Now}
}

func (p *Postgres) Subscribe(ctx context.Context, q Query, fn Listener) (*Subscription, error) {
	if _, _, err := buildSelect(q); err != nil {
		return nil, err
	}
	return startSubscription(ctx, p.feed, q, p.Query, fn), nil
}

func (p *Postgres) Query(ctx context.Context, q Query) ([]Document, error) {
	sql, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		fields, err := unmarshalFields(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return docs, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	fields, err := unmarshalFields(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Fields: fields}, nil
}

func (p *Postgres) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	raw, err := marshalFields(fields, p.now())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := p.db.Exec(ctx,
		`INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(raw),
	); err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}
	p.publish(ctx, collection)
	return id, nil
}

func (p *Postgres) Upsert(ctx context.Context, collection, id string, fields Fields) error {
	raw, err := marshalFields(fields, p.now())
	if err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx,
		`INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
		collection, id, string(raw),
	); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	p.publish(ctx, collection)
	return nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields Fields) error {
	raw, err := marshalFields(fields, p.now())
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE documents SET fields = fields || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	p.publish(ctx, collection)
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() > 0 {
		p.publish(ctx, collection)
	}
	return nil
}

func (p *Postgres) publish(ctx context.Context, collection string) {
	if err := p.feed.Publish(ctx, collection); err != nil {
		slog.Error("docstore: failed to publish change", "collection", collection, "error", err)
	}
}

// buildSelect compiles a Query to SQL. Field names are checked against a
// strict identifier pattern before being placed in the statement; values are
// always bound as JSONB parameters.
func buildSelect(q Query) (string, []any, error) {
	if err := q.validate(); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString("SELECT id, fields FROM documents WHERE collection = $1")
	args := []any{q.Collection}

	for _, f := range q.Filters {
		if !fieldNamePattern.MatchString(f.Field) {
			return "", nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidQuery, f.Field)
		}
		value, err := normalizeValue(f.Value)
		if err != nil {
			return "", nil, err
		}
		raw, err := marshalJSON(value)
		if err != nil {
			return "", nil, err
		}
		args = append(args, raw)
		fmt.Fprintf(&b, " AND fields->'%s' %s $%d::jsonb", f.Field, sqlOperators[f.Op], len(args))
	}

	if q.OrderBy != "" {
		if !fieldNamePattern.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("%w: invalid order field %q", ErrInvalidQuery, q.OrderBy)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY fields->'%s' %s, id ASC", q.OrderBy, dir)
	} else {
		b.WriteString(" ORDER BY id ASC")
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}
