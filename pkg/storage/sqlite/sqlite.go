// Package sqlite provides a SQLite based implementation of
// storage.CollectionStore. Elements are stored one row per occurrence, JSON
// encoded, keyed by owner identity and field name.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/holdfast-db/holdfast/pkg/id"
	"github.com/holdfast-db/holdfast/pkg/logger"
	"github.com/holdfast-db/holdfast/pkg/storage"
)

var tracer = otel.Tracer("holdfast/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

const tableName = "collection_element"

// Config configures a Store.
type Config struct {
	// FieldName scopes this store to one collection-valued field.
	FieldName string

	// OrderMapping makes the store maintain explicit element order and
	// permit duplicates.
	OrderMapping bool

	// Logger used by the store. Defaults to a noop logger.
	Logger logger.Logger

	// ExportMetrics registers a prometheus collector for database/sql pool
	// stats.
	ExportMetrics bool
}

// Store is a SQLite backed CollectionStore.
type Store[E comparable] struct {
	stbl             sq.StatementBuilderType
	db               *sql.DB
	ownsDB           bool
	fieldName        string
	ordered          bool
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
}

var _ storage.CollectionStore[string] = (*Store[string])(nil)

// PrepareDSN takes a raw DSN and applies defaults for journal mode, busy
// timeout and transaction lock mode if not already specified.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	uri += "?" + query.Encode()

	return uri, nil
}

// New opens a SQLite store at the given DSN.
func New[E comparable](uri string, cfg *Config) (*Store[E], error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	s, err := NewWithDB[E](db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true

	return s, nil
}

// NewWithDB wraps an existing connection pool. The caller keeps ownership of
// the pool; Close will not close it.
func NewWithDB[E comparable](db *sql.DB, cfg *Config) (*Store[E], error) {
	if cfg.FieldName == "" {
		return nil, fmt.Errorf("sqlite store requires a field name")
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, "holdfast")
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	log.Debug("initialized sqlite collection store",
		zap.String("field", cfg.FieldName),
		zap.Bool("orderMapping", cfg.OrderMapping))

	return &Store[E]{
		stbl:             sq.StatementBuilder.RunWith(db),
		db:               db,
		fieldName:        cfg.FieldName,
		ordered:          cfg.OrderMapping,
		logger:           log,
		dbStatsCollector: collector,
	}, nil
}

// DB exposes the underlying pool, e.g. for running migrations.
func (s *Store[E]) DB() *sql.DB {
	return s.db
}

// Close releases the store's resources.
func (s *Store[E]) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	if s.ownsDB {
		_ = s.db.Close()
	}
}

// HasOrderMapping see storage.CollectionStore.
func (s *Store[E]) HasOrderMapping() bool {
	return s.ordered
}

// Contains see storage.CollectionStore.
func (s *Store[E]) Contains(ctx context.Context, owner storage.Owner, element E) (bool, error) {
	ctx, span := startTrace(ctx, "Contains")
	defer span.End()

	raw, err := encodeElement(element)
	if err != nil {
		return false, err
	}

	var one int
	err = s.stbl.
		Select("1").
		From(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName, "element": raw}).
		Limit(1).
		QueryRowContext(ctx).
		Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, HandleSQLError(err)
	}

	return true, nil
}

// Size see storage.CollectionStore.
func (s *Store[E]) Size(ctx context.Context, owner storage.Owner) (int, error) {
	ctx, span := startTrace(ctx, "Size")
	defer span.End()

	var count int
	err := s.stbl.
		Select("COUNT(*)").
		From(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName}).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, HandleSQLError(err)
	}

	return count, nil
}

// Iterator see storage.CollectionStore. The cursor streams rows; the caller
// must drain it or call Stop.
func (s *Store[E]) Iterator(ctx context.Context, owner storage.Owner) (storage.Iterator[E], error) {
	ctx, span := startTrace(ctx, "Iterator")
	defer span.End()

	qb := s.stbl.
		Select("element").
		From(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName})
	if s.ordered {
		qb = qb.OrderBy("position", "id")
	} else {
		qb = qb.OrderBy("id")
	}

	rows, err := qb.QueryContext(ctx)
	if err != nil {
		return nil, HandleSQLError(err)
	}

	return &rowIterator[E]{rows: rows}, nil
}

// Add see storage.CollectionStore. For ordered stores sizeHint, when known,
// is taken as the element's position, saving a count query.
func (s *Store[E]) Add(ctx context.Context, owner storage.Owner, element E, sizeHint int) (bool, error) {
	ctx, span := startTrace(ctx, "Add")
	defer span.End()

	if !s.ordered {
		exists, err := s.Contains(ctx, owner, element)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	pos, err := s.nextPosition(ctx, owner, sizeHint)
	if err != nil {
		return false, err
	}

	if err := s.insert(ctx, s.stbl, owner, element, pos); err != nil {
		return false, err
	}

	return true, nil
}

// AddAll see storage.CollectionStore. The batch is inserted in one
// transaction, in slice order.
func (s *Store[E]) AddAll(ctx context.Context, owner storage.Owner, elements []E, sizeHint int) (bool, error) {
	ctx, span := startTrace(ctx, "AddAll")
	defer span.End()

	if len(elements) == 0 {
		return false, nil
	}

	pos, err := s.nextPosition(ctx, owner, sizeHint)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, HandleSQLError(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stbl := s.stbl.RunWith(tx)
	changed := false
	for _, element := range elements {
		if !s.ordered {
			exists, err := s.containsTx(ctx, stbl, owner, element)
			if err != nil {
				return false, err
			}
			if exists {
				continue
			}
		}

		if err := s.insert(ctx, stbl, owner, element, pos); err != nil {
			return false, err
		}
		pos++
		changed = true
	}

	if err := tx.Commit(); err != nil {
		return false, HandleSQLError(err)
	}

	return changed, nil
}

// Remove see storage.CollectionStore. A single occurrence is deleted, the
// earliest in stored order. The store models no dependent records, so
// allowCascade has no effect.
func (s *Store[E]) Remove(ctx context.Context, owner storage.Owner, element E, sizeHint int, allowCascade bool) (bool, error) {
	ctx, span := startTrace(ctx, "Remove")
	defer span.End()

	raw, err := encodeElement(element)
	if err != nil {
		return false, err
	}

	rowID, err := s.firstMatchingRow(ctx, owner, raw)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if _, err := s.stbl.Delete(tableName).Where(sq.Eq{"id": rowID}).ExecContext(ctx); err != nil {
		return false, HandleSQLError(err)
	}

	return true, nil
}

// RemoveAll see storage.CollectionStore. Every occurrence of each given
// element is deleted.
func (s *Store[E]) RemoveAll(ctx context.Context, owner storage.Owner, elements []E, sizeHint int) (bool, error) {
	ctx, span := startTrace(ctx, "RemoveAll")
	defer span.End()

	if len(elements) == 0 {
		return false, nil
	}

	raws := make([]string, 0, len(elements))
	for _, element := range elements {
		raw, err := encodeElement(element)
		if err != nil {
			return false, err
		}
		raws = append(raws, raw)
	}

	res, err := s.stbl.
		Delete(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName, "element": raws}).
		ExecContext(ctx)
	if err != nil {
		return false, HandleSQLError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, HandleSQLError(err)
	}

	return affected > 0, nil
}

// Clear see storage.CollectionStore.
func (s *Store[E]) Clear(ctx context.Context, owner storage.Owner) error {
	ctx, span := startTrace(ctx, "Clear")
	defer span.End()

	_, err := s.stbl.
		Delete(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName}).
		ExecContext(ctx)
	if err != nil {
		return HandleSQLError(err)
	}

	return nil
}

// UpdateEmbeddedElement see storage.CollectionStore. The first stored
// occurrence is rewritten with the named field replaced.
func (s *Store[E]) UpdateEmbeddedElement(ctx context.Context, owner storage.Owner, element E, field string, value any) error {
	ctx, span := startTrace(ctx, "UpdateEmbeddedElement")
	defer span.End()

	raw, err := encodeElement(element)
	if err != nil {
		return err
	}

	rowID, err := s.firstMatchingRow(ctx, owner, raw)
	if err != nil {
		return err
	}

	updated, err := storage.RewriteEmbeddedField(element, field, value)
	if err != nil {
		return err
	}

	updatedRaw, err := encodeElement(updated)
	if err != nil {
		return err
	}

	if _, err := s.stbl.
		Update(tableName).
		Set("element", updatedRaw).
		Where(sq.Eq{"id": rowID}).
		ExecContext(ctx); err != nil {
		return HandleSQLError(err)
	}

	return nil
}

// RawElements returns owner's elements as stored JSON text, in stored order.
// Useful for inspection tooling that does not know the element type.
func (s *Store[E]) RawElements(ctx context.Context, owner storage.Owner) ([]string, error) {
	ctx, span := startTrace(ctx, "RawElements")
	defer span.End()

	qb := s.stbl.
		Select("element").
		From(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName})
	if s.ordered {
		qb = qb.OrderBy("position", "id")
	} else {
		qb = qb.OrderBy("id")
	}

	rows, err := qb.QueryContext(ctx)
	if err != nil {
		return nil, HandleSQLError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, HandleSQLError(err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, HandleSQLError(err)
	}

	return out, nil
}

// firstMatchingRow returns the id of the earliest row holding the encoded
// element for the store's field, or storage.ErrNotFound.
func (s *Store[E]) firstMatchingRow(ctx context.Context, owner storage.Owner, raw string) (string, error) {
	qb := s.stbl.
		Select("id").
		From(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName, "element": raw}).
		Limit(1)
	if s.ordered {
		qb = qb.OrderBy("position", "id")
	} else {
		qb = qb.OrderBy("id")
	}

	var rowID string
	if err := qb.QueryRowContext(ctx).Scan(&rowID); err != nil {
		return "", HandleSQLError(err)
	}

	return rowID, nil
}

func (s *Store[E]) containsTx(ctx context.Context, stbl sq.StatementBuilderType, owner storage.Owner, element E) (bool, error) {
	raw, err := encodeElement(element)
	if err != nil {
		return false, err
	}

	var one int
	err = stbl.
		Select("1").
		From(tableName).
		Where(sq.Eq{"owner_id": owner.ObjectID(), "field": s.fieldName, "element": raw}).
		Limit(1).
		QueryRowContext(ctx).
		Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, HandleSQLError(err)
	}

	return true, nil
}

// nextPosition resolves the position for the next inserted element: the size
// hint when the caller knows it, a count query otherwise. Unordered stores
// carry no position.
func (s *Store[E]) nextPosition(ctx context.Context, owner storage.Owner, sizeHint int) (int, error) {
	if !s.ordered {
		return 0, nil
	}
	if sizeHint >= 0 {
		return sizeHint, nil
	}

	return s.Size(ctx, owner)
}

func (s *Store[E]) insert(ctx context.Context, stbl sq.StatementBuilderType, owner storage.Owner, element E, pos int) error {
	raw, err := encodeElement(element)
	if err != nil {
		return err
	}

	position := sql.NullInt64{}
	if s.ordered {
		position = sql.NullInt64{Int64: int64(pos), Valid: true}
	}

	// Monotonic ids keep "ORDER BY id" equal to insertion order.
	rowID, err := id.NewString()
	if err != nil {
		return err
	}

	_, err = stbl.
		Insert(tableName).
		Columns("id", "owner_id", "field", "position", "element").
		Values(rowID, owner.ObjectID(), s.fieldName, position, raw).
		ExecContext(ctx)
	if err != nil {
		return HandleSQLError(err)
	}

	return nil
}

func encodeElement[E comparable](element E) (string, error) {
	raw, err := json.Marshal(element)
	if err != nil {
		return "", fmt.Errorf("encode element: %w", err)
	}
	return string(raw), nil
}

type rowIterator[E comparable] struct {
	rows *sql.Rows
}

var _ storage.Iterator[string] = (*rowIterator[string])(nil)

func (it *rowIterator[E]) Next(ctx context.Context) (E, error) {
	var zero E

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return zero, HandleSQLError(err)
		}
		return zero, storage.ErrIteratorDone
	}

	var raw string
	if err := it.rows.Scan(&raw); err != nil {
		return zero, HandleSQLError(err)
	}

	var element E
	if err := json.Unmarshal([]byte(raw), &element); err != nil {
		return zero, fmt.Errorf("decode element: %w", err)
	}

	return element, nil
}

func (it *rowIterator[E]) Stop() {
	_ = it.rows.Close()
}

// HandleSQLError translates driver errors into storage errors.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		if code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED {
			return storage.ErrWriteConflict
		}
	}

	return fmt.Errorf("sql error: %w", err)
}
