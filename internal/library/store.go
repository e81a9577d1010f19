package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shelf/internal/textutil"
)

// Store manages library record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the library database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Insert persists a new record and returns it with its assigned identifier.
func (s *Store) Insert(ctx context.Context, record *Record) (*Record, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	if strings.TrimSpace(record.Title) == "" {
		return nil, errors.New("record title required")
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO records (
            title, authors_json, isbn, isbn_normalized, secondary_isbns_json,
            cover_url, publisher, publication_year, genres_json,
            error_message, enriched_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Title,
		marshalStrings(record.Authors),
		nullableString(record.ISBN),
		nullableString(textutil.NormalizeISBN(record.ISBN)),
		marshalStrings(record.SecondaryISBNs),
		nullableString(record.CoverURL),
		nullableString(record.Publisher),
		nullableInt(record.PublicationYear),
		marshalStrings(record.Genres),
		nullableString(record.ErrorMessage),
		nullableTime(record.EnrichedAt),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a record by identifier. Returns nil without error when the
// record does not exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// Update persists changes to an existing record.
func (s *Store) Update(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	record.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE records
         SET title = ?, authors_json = ?, isbn = ?, isbn_normalized = ?,
             secondary_isbns_json = ?, cover_url = ?, publisher = ?,
             publication_year = ?, genres_json = ?, error_message = ?,
             enriched_at = ?, updated_at = ?
         WHERE id = ?`,
		record.Title,
		marshalStrings(record.Authors),
		nullableString(record.ISBN),
		nullableString(textutil.NormalizeISBN(record.ISBN)),
		marshalStrings(record.SecondaryISBNs),
		nullableString(record.CoverURL),
		nullableString(record.Publisher),
		nullableInt(record.PublicationYear),
		marshalStrings(record.Genres),
		nullableString(record.ErrorMessage),
		nullableTime(record.EnrichedAt),
		record.UpdatedAt.Format(time.RFC3339Nano),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Remove deletes a record by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns all records ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// FindByISBN returns records whose primary ISBN normalizes to the same form.
// Secondary ISBNs are not indexed; callers needing those scan List output.
func (s *Store) FindByISBN(ctx context.Context, isbn string) ([]*Record, error) {
	normalized := textutil.NormalizeISBN(isbn)
	if normalized == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM records WHERE isbn_normalized = ? ORDER BY id`,
		normalized,
	)
	if err != nil {
		return nil, fmt.Errorf("find by isbn: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Count returns the total number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

const recordColumns = "id, title, authors_json, isbn, secondary_isbns_json, cover_url, publisher, publication_year, genres_json, error_message, enriched_at, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id            int64
		title         string
		authorsJSON   sql.NullString
		isbn          sql.NullString
		secondaryJSON sql.NullString
		coverURL      sql.NullString
		publisher     sql.NullString
		pubYear       sql.NullInt64
		genresJSON    sql.NullString
		errorMessage  sql.NullString
		enrichedAtRaw sql.NullString
		createdAtRaw  sql.NullString
		updatedAtRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&authorsJSON,
		&isbn,
		&secondaryJSON,
		&coverURL,
		&publisher,
		&pubYear,
		&genresJSON,
		&errorMessage,
		&enrichedAtRaw,
		&createdAtRaw,
		&updatedAtRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:             id,
		Title:          title,
		Authors:        unmarshalStrings(authorsJSON.String),
		ISBN:           isbn.String,
		SecondaryISBNs: unmarshalStrings(secondaryJSON.String),
		CoverURL:       coverURL.String,
		Publisher:      publisher.String,
		Genres:         unmarshalStrings(genresJSON.String),
		ErrorMessage:   errorMessage.String,
	}
	if pubYear.Valid {
		record.PublicationYear = int(pubYear.Int64)
	}
	if enrichedAtRaw.Valid {
		if parsed, err := time.Parse(time.RFC3339Nano, enrichedAtRaw.String); err == nil {
			record.EnrichedAt = &parsed
		}
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAtRaw.String); err == nil {
		record.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAtRaw.String); err == nil {
		record.UpdatedAt = parsed
	}
	return record, nil
}

func marshalStrings(values []string) any {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		cleaned = append(cleaned, value)
	}
	if len(cleaned) == 0 {
		return nil
	}
	data, err := json.Marshal(cleaned)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalStrings(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
