// Package postgres implements the favorites store on top of a pgx pool.
//
// Idempotent inserts rely on the (username, pokemon_id) unique constraint:
// the row is inserted with ON CONFLICT DO NOTHING and, when nothing was
// inserted, the existing identity is read back. Two concurrent inserts for
// the same pair therefore never produce two rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrSnakeDoc/pokefav/internal/domain"
	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

const (
	tableFavorites = "favorites"

	// insertAttempts bounds the insert/read-back loop. A second pass is only
	// needed when the conflicting row is deleted between the two statements.
	insertAttempts = 3
)

var recordColumns = []string{"id", "pokemon_id", "pokemon_name", "pokemon_data", "created_at"}

// DB is the subset of *pgxpool.Pool the store needs. Every call acquires a
// pooled connection and releases it when the call (or its rows) completes.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Store persists FavoriteRecord rows.
type Store struct {
	db           DB
	psql         sq.StatementBuilderType
	queryTimeout time.Duration
	logger       logger.Logger
}

// NewStore creates a favorites store. queryTimeout bounds every call; a
// non-positive value leaves the caller's context untouched.
func NewStore(db DB, queryTimeout time.Duration, log logger.Logger) *Store {
	return &Store{
		db:           db,
		psql:         sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		queryTimeout: queryTimeout,
		logger:       log.With(logger.String("component", "favorites_store")),
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// fail logs the driver error and wraps it as a StorageError.
func (s *Store) fail(op string, err error, fields ...logger.Field) error {
	s.logger.Error("favorites store failure",
		append(fields, logger.String("op", op), logger.Error(err))...)
	return domain.NewStorageError(op, err)
}

// List returns the favorites of username, most recently added first.
// An unknown user yields an empty, non-nil slice.
func (s *Store) List(ctx context.Context, username string) ([]domain.FavoriteRecord, error) {
	const op = "list favorites"

	query, args, err := s.psql.
		Select(recordColumns...).
		From(tableFavorites).
		Where(sq.Eq{"username": username}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, s.fail(op, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail(op, err, logger.String("user", username))
	}
	defer rows.Close()

	records := make([]domain.FavoriteRecord, 0)
	for rows.Next() {
		rec := domain.FavoriteRecord{Username: username}
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.PokemonID, &rec.PokemonName, &data, &rec.CreatedAt); err != nil {
			return nil, s.fail(op, err, logger.String("user", username))
		}
		rec.PokemonData = json.RawMessage(data)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err, logger.String("user", username))
	}

	s.logger.Debug("listed favorites",
		logger.String("user", username),
		logger.Int("count", len(records)))
	return records, nil
}

// InsertIfAbsent creates the favorite unless one already exists for
// (Username, PokemonID). Either way the row identity is returned, with
// Existed reporting which case happened.
func (s *Store) InsertIfAbsent(ctx context.Context, fav domain.NewFavorite) (domain.InsertResult, error) {
	const op = "insert favorite"

	data := domain.NormalizePokemonData(fav.PokemonData)

	insert, insertArgs, err := s.psql.
		Insert(tableFavorites).
		Columns("username", "pokemon_id", "pokemon_name", "pokemon_data").
		Values(fav.Username, fav.PokemonID, fav.PokemonName, data).
		Suffix("ON CONFLICT (username, pokemon_id) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return domain.InsertResult{}, s.fail(op, err)
	}

	lookup, lookupArgs, err := s.psql.
		Select("id").
		From(tableFavorites).
		Where(sq.And{sq.Eq{"username": fav.Username}, sq.Eq{"pokemon_id": fav.PokemonID}}).
		ToSql()
	if err != nil {
		return domain.InsertResult{}, s.fail(op, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	fields := []logger.Field{
		logger.String("user", fav.Username),
		logger.Int64("pokemon_id", fav.PokemonID),
	}

	for attempt := 1; attempt <= insertAttempts; attempt++ {
		var id int64
		err := s.db.QueryRow(ctx, insert, insertArgs...).Scan(&id)
		switch {
		case err == nil:
			s.logger.Debug("inserted favorite", append(fields, logger.Int64("id", id))...)
			return domain.InsertResult{ID: id, Existed: false}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return domain.InsertResult{}, s.fail(op, err, fields...)
		}

		// Conflict: the pair is already stored. This runs as a new statement
		// so it sees the row committed by a concurrent insert.
		err = s.db.QueryRow(ctx, lookup, lookupArgs...).Scan(&id)
		switch {
		case err == nil:
			s.logger.Debug("favorite already present", append(fields, logger.Int64("id", id))...)
			return domain.InsertResult{ID: id, Existed: true}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return domain.InsertResult{}, s.fail(op, err, fields...)
		}

		s.logger.Warn("conflicting favorite vanished before read-back, retrying",
			append(fields, logger.Int("attempt", attempt))...)
	}

	return domain.InsertResult{}, s.fail(op, errors.New("insert kept conflicting with concurrent deletes"), fields...)
}

// Delete removes the favorite for key and returns the number of rows removed
// (0 or 1).
func (s *Store) Delete(ctx context.Context, key domain.FavoriteKey) (int64, error) {
	const op = "delete favorite"

	query, args, err := s.psql.
		Delete(tableFavorites).
		Where(sq.And{sq.Eq{"username": key.Username}, sq.Eq{"pokemon_id": key.PokemonID}}).
		ToSql()
	if err != nil {
		return 0, s.fail(op, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, s.fail(op, err,
			logger.String("user", key.Username),
			logger.Int64("pokemon_id", key.PokemonID))
	}

	deleted := tag.RowsAffected()
	s.logger.Debug("deleted favorite",
		logger.String("user", key.Username),
		logger.Int64("pokemon_id", key.PokemonID),
		logger.Int64("deleted", deleted))
	return deleted, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return domain.NewStorageError("ping", err)
	}
	return nil
}
