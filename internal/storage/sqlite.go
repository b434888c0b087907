package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"movesetlab/internal/model"
)

const resultColumns = `id, generation, team_a, team_b, win, tie, loss`

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sqlx.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// sqliteDSN enables WAL so reader processes never block the single writer,
// and FULL sync so a committed batch survives a crash.
func sqliteDSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	if err := migrateUp(s.path); err != nil {
		return fmt.Errorf("migrate %s: %w", s.path, err)
	}

	db, err := sqlx.Open("sqlite", sqliteDSN(s.path))
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) InternTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	var id model.TeamID
	err = withTransaction(ctx, db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO teams (packed) VALUES (?) ON CONFLICT(packed) DO NOTHING`, string(packed)); err != nil {
			return err
		}
		return tx.GetContext(ctx, &id, `SELECT id FROM teams WHERE packed = ?`, string(packed))
	})
	if err != nil {
		return 0, fmt.Errorf("intern team: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) LookupTeam(ctx context.Context, packed model.PackedTeam) (model.TeamID, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, false, err
	}

	var id model.TeamID
	err = db.GetContext(ctx, &id, `SELECT id FROM teams WHERE packed = ?`, string(packed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (s *SQLiteStore) GetTeam(ctx context.Context, id model.TeamID) (model.PackedTeam, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return "", false, err
	}

	var packed string
	err = db.GetContext(ctx, &packed, `SELECT packed FROM teams WHERE id = ?`, int64(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.PackedTeam(packed), true, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, key model.MatchupKey) (model.Result, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Result{}, false, err
	}
	return getResult(ctx, db, key)
}

func (s *SQLiteStore) GetResultByID(ctx context.Context, id int64) (model.Result, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Result{}, false, err
	}

	var result model.Result
	err = db.GetContext(ctx, &result, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Result{}, false, nil
		}
		return model.Result{}, false, err
	}
	return result, true, nil
}

func (s *SQLiteStore) EnsureResult(ctx context.Context, key model.MatchupKey) (model.Result, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Result{}, err
	}

	var result model.Result
	err = withTransaction(ctx, db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO results (generation, team_a, team_b)
			VALUES (?, ?, ?)
			ON CONFLICT(generation, team_a, team_b) DO NOTHING
		`, key.Generation, int64(key.TeamA), int64(key.TeamB))
		if err != nil {
			return err
		}
		var ok bool
		result, ok, err = getResult(ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("result %s missing after insert", key)
		}
		return nil
	})
	if err != nil {
		return model.Result{}, fmt.Errorf("ensure result: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) ApplyDeltas(ctx context.Context, deltas []ResultDelta) error {
	if err := validateDeltas(deltas); err != nil {
		return err
	}
	if len(deltas) == 0 {
		return nil
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	return withTransaction(ctx, db, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `UPDATE results SET win = win + ?, tie = tie + ?, loss = loss + ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, d := range deltas {
			res, err := stmt.ExecContext(ctx, d.Win, d.Tie, d.Loss, d.ResultID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return fmt.Errorf("%w: %d", ErrUnknownResult, d.ResultID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListResults(ctx context.Context, generation int) ([]model.Result, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	out := make([]model.Result, 0)
	err = db.SelectContext(ctx, &out, `SELECT `+resultColumns+` FROM results WHERE generation = ? ORDER BY id`, generation)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) SavePass(ctx context.Context, pass model.PassRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.NamedExecContext(ctx, `
		INSERT INTO passes (id, generation, pass_index, rounds, species, improved, simulations, dropped, started_at, finished_at)
		VALUES (:id, :generation, :pass_index, :rounds, :species, :improved, :simulations, :dropped, :started_at, :finished_at)
		ON CONFLICT(id) DO UPDATE SET
			rounds = excluded.rounds,
			species = excluded.species,
			improved = excluded.improved,
			simulations = excluded.simulations,
			dropped = excluded.dropped,
			finished_at = excluded.finished_at
	`, pass)
	return err
}

func (s *SQLiteStore) ListPasses(ctx context.Context, generation int, limit int) ([]model.PassRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	out := make([]model.PassRecord, 0)
	err = db.SelectContext(ctx, &out, `
		SELECT id, generation, pass_index, rounds, species, improved, simulations, dropped, started_at, finished_at
		FROM passes WHERE generation = ? ORDER BY pass_index DESC LIMIT ?
	`, generation, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sqlx.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func getResult(ctx context.Context, q sqlx.QueryerContext, key model.MatchupKey) (model.Result, bool, error) {
	var result model.Result
	err := sqlx.GetContext(ctx, q, &result, `
		SELECT `+resultColumns+` FROM results
		WHERE generation = ? AND team_a = ? AND team_b = ?
	`, key.Generation, int64(key.TeamA), int64(key.TeamB))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Result{}, false, nil
		}
		return model.Result{}, false, err
	}
	return result, true, nil
}
