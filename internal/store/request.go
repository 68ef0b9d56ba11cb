package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reqtrail/reqtrail/internal/models"
)

// ErrRequestNotFound is returned when a request record does not exist.
var ErrRequestNotFound = errors.New("request record not found")

// RequestStore provides data access for the request_log table.
type RequestStore struct {
	Base
}

// NewRequestStore creates a RequestStore.
func NewRequestStore(base Base) *RequestStore {
	return &RequestStore{Base: base}
}

// CreateRequest inserts a request record and returns its id.
func (s *RequestStore) CreateRequest(ctx context.Context, rec *models.RequestRecord) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id int64

	err := s.Pool.QueryRow(ctx, `
		INSERT INTO request_log (user_id, ip, method, referer, url, status_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.UserID, rec.IP, rec.Method, rec.Referer, rec.URL, rec.StatusCode,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting request record: %w", err)
	}

	return id, nil
}

// GetRequest fetches a single request record by id.
func (s *RequestStore) GetRequest(ctx context.Context, id int64) (*models.RequestRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rec models.RequestRecord

	err := s.Pool.QueryRow(ctx, `
		SELECT id, created_at, user_id, ip, method, referer, url, status_code
		FROM request_log WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UserID, &rec.IP, &rec.Method, &rec.Referer, &rec.URL, &rec.StatusCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}

		return nil, fmt.Errorf("fetching request record: %w", err)
	}

	return &rec, nil
}

// buildRequestFilter builds WHERE clause and args from RequestQueryOpts.
func buildRequestFilter(opts models.RequestQueryOpts) (where string, args []any, nextArg int) {
	var conditions []string
	argIdx := 1

	if opts.Method != "" {
		conditions = append(conditions, "method = $"+strconv.Itoa(argIdx))
		args = append(args, opts.Method)
		argIdx++
	}
	if opts.StatusCode != 0 {
		conditions = append(conditions, "status_code = $"+strconv.Itoa(argIdx))
		args = append(args, opts.StatusCode)
		argIdx++
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = $"+strconv.Itoa(argIdx))
		args = append(args, opts.UserID)
		argIdx++
	}
	if opts.Since != nil {
		conditions = append(conditions, "created_at >= $"+strconv.Itoa(argIdx))
		args = append(args, *opts.Since)
		argIdx++
	}

	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	return where, args, argIdx
}

// QueryRequests returns request records matching the given filters.
// Returns records, hasMore flag, and any error.
func (s *RequestStore) QueryRequests(
	ctx context.Context, opts models.RequestQueryOpts,
) ([]models.RequestRecord, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args, argIdx := buildRequestFilter(opts)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(
		"SELECT id, created_at, user_id, ip, method, referer, url, status_code FROM request_log %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, argIdx, argIdx+1,
	)
	args = append(args, limit+1, opts.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying request records: %w", err)
	}
	defer rows.Close()

	var records []models.RequestRecord
	for rows.Next() {
		var rec models.RequestRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.UserID, &rec.IP, &rec.Method, &rec.Referer, &rec.URL, &rec.StatusCode); err != nil {
			return nil, false, fmt.Errorf("scanning request record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating request records: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	return records, hasMore, nil
}

// OldestRequestAt returns the minimum created_at in the table. ok is
// false when the table is empty.
func (s *RequestStore) OldestRequestAt(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var oldest *time.Time

	err := s.Pool.QueryRow(ctx, `SELECT MIN(created_at) FROM request_log`).Scan(&oldest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying oldest request: %w", err)
	}

	if oldest == nil {
		return time.Time{}, false, nil
	}

	return *oldest, true, nil
}

// DeleteRequestsInWindow deletes up to batchSize request records whose
// created_at falls in [from, to). Owned change rows cascade.
func (s *RequestStore) DeleteRequestsInWindow(
	ctx context.Context, from, to time.Time, batchSize int,
) (int, error) {
	return s.deleteBatch(ctx, `
		DELETE FROM request_log WHERE id IN (
			SELECT id FROM request_log
			WHERE created_at >= $1 AND created_at < $2
			ORDER BY id
			LIMIT $3
		)`, from, to, batchSize)
}

// DeleteExpiredRequestsExcluding deletes up to batchSize request records
// older than cutoff, keeping any request that owns a change touching a
// permanently retained field of a matching type.
func (s *RequestStore) DeleteExpiredRequestsExcluding(
	ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string,
) (int, error) {
	exclusion, args := retainedPredicate(keep, "c.instance", "c.fields", 3)

	query := fmt.Sprintf(`
		DELETE FROM request_log WHERE id IN (
			SELECT r.id FROM request_log r
			WHERE r.created_at <= $1 AND NOT EXISTS (
				SELECT 1 FROM request_log_change c
				WHERE c.request_id = r.id AND (%s)
			)
			ORDER BY r.id
			LIMIT $2
		)`, exclusion)

	return s.deleteBatch(ctx, query, append([]any{cutoff, batchSize}, args...)...)
}

func (s *RequestStore) deleteBatch(ctx context.Context, query string, args ...any) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting request batch: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// Reindex rebuilds the request table's indexes without taking locks
// that would block concurrent reads or writes.
func (s *RequestStore) Reindex(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `REINDEX TABLE CONCURRENTLY request_log`); err != nil {
		return fmt.Errorf("reindexing request_log: %w", err)
	}

	return nil
}
