package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reqtrail/reqtrail/internal/models"
)

// ErrChangeNotFound is returned when a change record does not exist.
var ErrChangeNotFound = errors.New("change record not found")

// ChangeStore provides data access for the request_log_change table.
type ChangeStore struct {
	Base
}

// NewChangeStore creates a ChangeStore.
func NewChangeStore(base Base) *ChangeStore {
	return &ChangeStore{Base: base}
}

// CreateChange inserts a change record and returns its id.
func (s *ChangeStore) CreateChange(
	ctx context.Context, changeType models.ChangeType, instance string, fields map[string]models.FieldChange,
) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if fields == nil {
		fields = map[string]models.FieldChange{}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("marshaling change fields: %w", err)
	}

	var id int64

	err = s.Pool.QueryRow(ctx, `
		INSERT INTO request_log_change (change_type, instance, fields)
		VALUES ($1, $2, $3)
		RETURNING id`,
		string(changeType), instance, fieldsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting change record: %w", err)
	}

	return id, nil
}

// GetChange fetches a single change record by id.
func (s *ChangeStore) GetChange(ctx context.Context, id int64) (*models.ChangeRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, `
		SELECT id, created_at, request_id, change_type, instance, fields
		FROM request_log_change WHERE id = $1`, id)

	rec, err := scanChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChangeNotFound
		}

		return nil, fmt.Errorf("fetching change record: %w", err)
	}

	return rec, nil
}

// UpdateChangeFields replaces the fields map of an existing change
// record. The change type and object reference of the original event
// are left untouched; only merged field deltas are written back.
func (s *ChangeStore) UpdateChangeFields(
	ctx context.Context, id int64, fields map[string]models.FieldChange,
) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling change fields: %w", err)
	}

	tag, err := s.Pool.Exec(ctx,
		`UPDATE request_log_change SET fields = $2 WHERE id = $1`,
		id, fieldsJSON,
	)
	if err != nil {
		return fmt.Errorf("updating change fields: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrChangeNotFound
	}

	return nil
}

// LinkToRequest back-fills the request foreign key on every change
// record in ids. Called once at request finalization.
func (s *ChangeStore) LinkToRequest(ctx context.Context, requestID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		`UPDATE request_log_change SET request_id = $1 WHERE id = ANY($2)`,
		requestID, ids,
	)
	if err != nil {
		return fmt.Errorf("linking changes to request: %w", err)
	}

	return nil
}

// buildChangeFilter builds WHERE clause and args from ChangeQueryOpts.
func buildChangeFilter(opts models.ChangeQueryOpts) (where string, args []any, nextArg int) {
	var conditions []string
	argIdx := 1

	if opts.Instance != "" {
		conditions = append(conditions, "instance = $"+strconv.Itoa(argIdx))
		args = append(args, opts.Instance)
		argIdx++
	}
	if opts.ChangeType != "" {
		conditions = append(conditions, "change_type = $"+strconv.Itoa(argIdx))
		args = append(args, opts.ChangeType)
		argIdx++
	}
	if opts.RequestID != nil {
		conditions = append(conditions, "request_id = $"+strconv.Itoa(argIdx))
		args = append(args, *opts.RequestID)
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

// QueryChanges returns change records matching the given filters.
// Returns records, hasMore flag, and any error.
func (s *ChangeStore) QueryChanges(
	ctx context.Context, opts models.ChangeQueryOpts,
) ([]models.ChangeRecord, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args, argIdx := buildChangeFilter(opts)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(
		"SELECT id, created_at, request_id, change_type, instance, fields FROM request_log_change %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, argIdx, argIdx+1,
	)
	args = append(args, limit+1, opts.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("querying change records: %w", err)
	}
	defer rows.Close()

	var records []models.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scanning change record: %w", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating change records: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	return records, hasMore, nil
}

// OldestChangeAt returns the minimum created_at in the table. ok is
// false when the table is empty. The sweeper re-derives its starting
// point from this on every run.
func (s *ChangeStore) OldestChangeAt(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var oldest *time.Time

	err := s.Pool.QueryRow(ctx, `SELECT MIN(created_at) FROM request_log_change`).Scan(&oldest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying oldest change: %w", err)
	}

	if oldest == nil {
		return time.Time{}, false, nil
	}

	return *oldest, true, nil
}

// DeleteChangesInWindow deletes up to batchSize change records whose
// created_at falls in [from, to), walking primary keys so each
// transaction's row count stays bounded. Returns rows deleted.
func (s *ChangeStore) DeleteChangesInWindow(
	ctx context.Context, from, to time.Time, batchSize int,
) (int, error) {
	return s.deleteBatch(ctx, `
		DELETE FROM request_log_change WHERE id IN (
			SELECT id FROM request_log_change
			WHERE created_at >= $1 AND created_at < $2
			ORDER BY id
			LIMIT $3
		)`, from, to, batchSize)
}

// DeleteExpiredChangesExcluding deletes up to batchSize change records
// older than cutoff, skipping rows whose payload touches a permanently
// retained field of the matching type. keep maps a type name to its
// permanent field names.
func (s *ChangeStore) DeleteExpiredChangesExcluding(
	ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string,
) (int, error) {
	exclusion, args := retainedPredicate(keep, "instance", "fields", 3)

	query := fmt.Sprintf(`
		DELETE FROM request_log_change WHERE id IN (
			SELECT id FROM request_log_change
			WHERE created_at <= $1 AND NOT (%s)
			ORDER BY id
			LIMIT $2
		)`, exclusion)

	return s.deleteBatch(ctx, query, append([]any{cutoff, batchSize}, args...)...)
}

func (s *ChangeStore) deleteBatch(ctx context.Context, query string, args ...any) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting change batch: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// Reindex rebuilds the change table's indexes without taking locks that
// would block concurrent reads or writes.
func (s *ChangeStore) Reindex(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, `REINDEX TABLE CONCURRENTLY request_log_change`); err != nil {
		return fmt.Errorf("reindexing request_log_change: %w", err)
	}

	return nil
}

// retainedPredicate builds the SQL predicate matching rows that must
// outlive retention: the instance column mentions a retained type name
// and the fields payload mentions one of its permanent fields. startArg
// is the first free placeholder number.
func retainedPredicate(keep map[string][]string, instanceCol, fieldsCol string, startArg int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	argIdx := startArg

	// Deterministic order keeps the generated SQL stable.
	names := make([]string, 0, len(keep))
	for name := range keep {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fields := keep[name]
		if len(fields) == 0 {
			continue
		}

		instancePlaceholder := fmt.Sprintf("%s ILIKE $%d", instanceCol, argIdx)
		args = append(args, "%"+name+"%")
		argIdx++

		var fieldClauses []string
		for _, f := range fields {
			fieldClauses = append(fieldClauses,
				fmt.Sprintf("%s::text ILIKE $%d", fieldsCol, argIdx))
			args = append(args, `%"`+f+`":%`)
			argIdx++
		}

		clauses = append(clauses, fmt.Sprintf("(%s AND (%s))",
			instancePlaceholder, strings.Join(fieldClauses, " OR ")))
	}

	if len(clauses) == 0 {
		return "FALSE", nil
	}

	return strings.Join(clauses, " OR "), args
}

// scanChange scans one change row from a pgx.Row or pgx.Rows.
func scanChange(row pgx.Row) (*models.ChangeRecord, error) {
	var (
		rec        models.ChangeRecord
		changeType string
		fieldsJSON []byte
	)

	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.RequestID, &changeType, &rec.Instance, &fieldsJSON); err != nil {
		return nil, err
	}

	rec.ChangeType = models.ChangeType(changeType)
	rec.Fields = map[string]models.FieldChange{}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshaling change fields: %w", err)
		}
	}

	return &rec, nil
}
