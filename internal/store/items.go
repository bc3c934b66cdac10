package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// ListOpts controls item listing.
type ListOpts struct {
	Source source.SourceType
	Kind   source.Kind
	Since  time.Time
	Limit  int
}

// InsertItem stores a new content item and fills in its ID. The unique
// indexes double as a backstop behind IsDuplicate, so racing inserts
// surface as an error instead of a second row.
func (s *SQLiteStore) InsertItem(ctx context.Context, item *source.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	themesJSON, _ := json.Marshal(item.Themes)
	symbolsJSON, _ := json.Marshal(item.Symbols)
	metadataJSON, _ := json.Marshal(item.Metadata)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO content_items (source, kind, title, url, external_id, report_type, report_date,
			author, body, transcript, sentiment, themes, symbols, metadata, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.Source, item.Kind, item.Title, item.URL, item.ExternalID, item.ReportType, item.ReportDate,
		item.Author, item.Body, item.Transcript, item.Sentiment,
		string(themesJSON), string(symbolsJSON), string(metadataJSON),
		item.PublishedAt, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert item %s/%s: %w", item.Source, item.ExternalID, err)
	}
	item.ID, _ = res.LastInsertId()
	return nil
}

// GetItem loads one item by ID.
func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*source.Item, error) {
	var item source.Item
	err := s.db.GetContext(ctx, &item, "SELECT * FROM content_items WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	decodeItemJSON(&item)
	return &item, nil
}

// ListItems returns items, newest first.
func (s *SQLiteStore) ListItems(ctx context.Context, opts ListOpts) ([]source.Item, error) {
	query := "SELECT * FROM content_items WHERE 1=1"
	var args []any

	if opts.Source != "" {
		query += " AND source = ?"
		args = append(args, opts.Source)
	}
	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY published_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var items []source.Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	for i := range items {
		decodeItemJSON(&items[i])
	}
	return items, nil
}

// IsDuplicate reports whether any stored item from the same source
// already carries one of the given identity keys. Empty keys are not
// compared; an identity with no keys at all never matches.
func (s *SQLiteStore) IsDuplicate(ctx context.Context, src source.SourceType, id source.Identity) (bool, error) {
	var clauses []string
	args := []any{src}

	if id.URL != "" {
		clauses = append(clauses, "url = ?")
		args = append(args, id.URL)
	}
	if id.ExternalID != "" {
		clauses = append(clauses, "external_id = ?")
		args = append(args, id.ExternalID)
	}
	if id.ReportType != "" && id.ReportDate != "" {
		clauses = append(clauses, "(report_type = ? AND report_date = ?)")
		args = append(args, id.ReportType, id.ReportDate)
	}
	if len(clauses) == 0 {
		return false, nil
	}

	query := "SELECT COUNT(*) FROM content_items WHERE source = ? AND (" + strings.Join(clauses, " OR ") + ")"
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("dedup check %s: %w", src, err)
	}
	return n > 0, nil
}

// SetItemAnalysis writes harvest output back onto the item.
func (s *SQLiteStore) SetItemAnalysis(ctx context.Context, id int64, transcript string, themes []string, sentiment string) error {
	themesJSON, _ := json.Marshal(themes)
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items SET transcript = ?, themes = ?, sentiment = ? WHERE id = ?
	`, transcript, string(themesJSON), sentiment, id)
	if err != nil {
		return fmt.Errorf("set analysis for item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set analysis: item %d: %w", id, ErrNotFound)
	}
	return nil
}

// CountItemsSince counts items ingested for a source after the cutoff.
func (s *SQLiteStore) CountItemsSince(ctx context.Context, src source.SourceType, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM content_items WHERE source = ? AND created_at >= ?", src, since)
	if err != nil {
		return 0, fmt.Errorf("count items for %s: %w", src, err)
	}
	return n, nil
}

// CountItemsBySource returns total stored items per source.
func (s *SQLiteStore) CountItemsBySource(ctx context.Context) (map[source.SourceType]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT source, COUNT(*) AS cnt FROM content_items GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("count items by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[source.SourceType]int)
	for rows.Next() {
		var src string
		var cnt int
		if err := rows.Scan(&src, &cnt); err != nil {
			return nil, err
		}
		counts[source.SourceType(src)] = cnt
	}
	return counts, rows.Err()
}

func decodeItemJSON(item *source.Item) {
	json.Unmarshal([]byte(item.ThemesJSON), &item.Themes)
	json.Unmarshal([]byte(item.SymbolsJSON), &item.Symbols)
	json.Unmarshal([]byte(item.MetadataJSON), &item.Metadata)
}
