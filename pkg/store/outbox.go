package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	_ "modernc.org/sqlite"
)

// Outbox is a local SQLite mailbox. Documents wait there until a sync job
// (or the user) pulls them onto the tablet.
type Outbox struct {
	db *sql.DB
}

// OutboxItem is one queued document.
type OutboxItem struct {
	ID        string
	Target    string
	Title     string
	Filename  string
	Format    string
	MediaType string
	Size      int
	Data      []byte
	Summary   string
	Entities  []string
	Metadata  map[string]string
	CreatedAt time.Time
	SentAt    *time.Time
}

var ErrNotFound = errors.New("outbox item not found")

// OpenOutbox opens (creating if needed) the outbox database at path with WAL
// mode enabled.
func OpenOutbox(ctx context.Context, path string) (*Outbox, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initOutboxSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Outbox{db: db}, nil
}

func initOutboxSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS outbox (
	id TEXT PRIMARY KEY,
	target TEXT NOT NULL,
	title TEXT NOT NULL,
	filename TEXT NOT NULL,
	format TEXT NOT NULL,
	media_type TEXT NOT NULL,
	data BLOB NOT NULL,
	summary TEXT,
	entities TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	sent_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(target, sent_at, created_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init outbox schema: %w", err)
	}
	return nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) Deliver(ctx context.Context, doc *models.RenderedDocument, dest models.Destination) (*models.DeliveryReceipt, error) {
	title := doc.Title
	if dest.Title != "" {
		title = dest.Title
	}
	entities, err := json.Marshal(dest.Entities)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(dest.Metadata)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	filename := (&models.RenderedDocument{Title: title, Format: doc.Format}).Filename()

	_, err = o.db.ExecContext(ctx, `
INSERT INTO outbox (id, target, title, filename, format, media_type, data, summary, entities, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, dest.Target, title, filename, doc.Format, doc.MediaType, doc.Data,
		dest.Summary, string(entities), string(metadata), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("%w: outbox insert: %v", types.ErrDeviceUnavailable, err)
	}

	return &models.DeliveryReceipt{
		ID:          id,
		Target:      "outbox",
		Location:    filename,
		DeliveredAt: now,
	}, nil
}

// Pending lists unsent items for target, oldest first, without their data.
// An empty target lists every target.
func (o *Outbox) Pending(ctx context.Context, target string, limit int) ([]OutboxItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.QueryContext(ctx, `
SELECT id, target, title, filename, format, media_type, length(data), summary, entities, metadata, created_at, sent_at
FROM outbox
WHERE sent_at IS NULL AND (? = '' OR target = ?)
ORDER BY created_at
LIMIT ?`, target, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OutboxItem
	for rows.Next() {
		item, err := scanItem(rows.Scan, false)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Get returns one item including its document bytes.
func (o *Outbox) Get(ctx context.Context, id string) (*OutboxItem, error) {
	row := o.db.QueryRowContext(ctx, `
SELECT id, target, title, filename, format, media_type, length(data), summary, entities, metadata, created_at, sent_at, data
FROM outbox WHERE id = ?`, id)
	item, err := scanItem(row.Scan, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// MarkSent records that the item reached the device.
func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	res, err := o.db.ExecContext(ctx, `UPDATE outbox SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanItem(scan func(dest ...any) error, withData bool) (*OutboxItem, error) {
	var (
		item                        OutboxItem
		summary, entities, metadata sql.NullString
		createdAt                   string
		sentAt                      sql.NullString
	)
	dest := []any{&item.ID, &item.Target, &item.Title, &item.Filename, &item.Format, &item.MediaType,
		&item.Size, &summary, &entities, &metadata, &createdAt, &sentAt}
	if withData {
		dest = append(dest, &item.Data)
	}
	if err := scan(dest...); err != nil {
		return nil, err
	}

	item.Summary = summary.String
	if entities.Valid && entities.String != "" {
		if err := json.Unmarshal([]byte(entities.String), &item.Entities); err != nil {
			return nil, fmt.Errorf("decode entities: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if sentAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, sentAt.String)
		item.SentAt = &t
	}
	return &item, nil
}
