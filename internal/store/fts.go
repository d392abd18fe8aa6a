package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

var (
	indexNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pathRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\])*(\.[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\])*)*$`)
)

// Index describes a full-text index over one string property.
type Index struct {
	Name string
	Path string
}

// ValidIndexName reports whether name can be used as an index identifier.
func ValidIndexName(name string) bool {
	return indexNameRe.MatchString(name)
}

// JSONPath converts a dotted property path ("address.city") into the SQLite
// JSON path "$.address.city". "" and "." address the whole body.
func JSONPath(path string) (string, error) {
	if path == "" || path == "." {
		return "$", nil
	}
	if !pathRe.MatchString(path) {
		return "", fmt.Errorf("%w: bad property path %q", errors.ErrInvalidQuery, path)
	}
	return "$." + path, nil
}

// FTSTable returns the quoted FTS5 table name for an index.
func FTSTable(name string) string {
	return `"fts_` + name + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CreateFullTextIndex creates an FTS5 index named name over the string
// property at path, indexes existing documents and installs triggers that keep
// it current. Deleted documents and non-string values are not indexed.
func (s *Store) CreateFullTextIndex(ctx context.Context, name, path string) error {
	if !ValidIndexName(name) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidIndex, name)
	}
	jsonPath, err := JSONPath(path)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return errors.ErrDBNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT path FROM kv_fts_indexes WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		return fmt.Errorf("%w: %q", errors.ErrIndexExists, name)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("lookup index: %w", err)
	}

	table := FTSTable(name)
	p := quoteLiteral(jsonPath)
	indexed := fmt.Sprintf(`(%%[1]s.flags & 1) = 0 AND json_type(%%[1]s.body, %s) = 'text'`, p)

	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE %s USING fts5(text, tokenize = 'unicode61')`, table),
		fmt.Sprintf(`INSERT INTO %s (rowid, text) SELECT rowid, json_extract(body, %s) FROM kv_default AS d WHERE %s`,
			table, p, fmt.Sprintf(indexed, "d")),
		fmt.Sprintf(`CREATE TRIGGER "fts_%[1]s_ins" AFTER INSERT ON kv_default WHEN %[2]s BEGIN
			INSERT INTO %[3]s (rowid, text) VALUES (new.rowid, json_extract(new.body, %[4]s));
		END`, name, fmt.Sprintf(indexed, "new"), table, p),
		fmt.Sprintf(`CREATE TRIGGER "fts_%[1]s_del" AFTER DELETE ON kv_default BEGIN
			DELETE FROM %[2]s WHERE rowid = old.rowid;
		END`, name, table),
		fmt.Sprintf(`CREATE TRIGGER "fts_%[1]s_upd" AFTER UPDATE ON kv_default BEGIN
			DELETE FROM %[2]s WHERE rowid = old.rowid;
			INSERT INTO %[2]s (rowid, text) SELECT new.rowid, json_extract(new.body, %[3]s) WHERE %[4]s;
		END`, name, table, p, fmt.Sprintf(indexed, "new")),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %q: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_fts_indexes (name, path) VALUES (?, ?)`, name, path); err != nil {
		return fmt.Errorf("register index %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index %q: %w", name, err)
	}
	s.logger.Info("Created full-text index %q on %s", name, jsonPath)
	return nil
}

// DeleteIndex drops an index together with its triggers.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	if !ValidIndexName(name) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidIndex, name)
	}
	if s.isClosed() {
		return errors.ErrDBNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop index: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM kv_fts_indexes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("unregister index %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", errors.ErrIndexNotFound, name)
	}
	for _, suffix := range []string{"ins", "del", "upd"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS "fts_%s_%s"`, name, suffix)); err != nil {
			return fmt.Errorf("drop index %q: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+FTSTable(name)); err != nil {
		return fmt.Errorf("drop index %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop index %q: %w", name, err)
	}
	s.logger.Info("Dropped full-text index %q", name)
	return nil
}

// Indexes lists the full-text indexes, ordered by name.
func (s *Store) Indexes(ctx context.Context) ([]Index, error) {
	rows, err := s.QueryContext(ctx, `SELECT name, path FROM kv_fts_indexes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Index
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Path); err != nil {
			return nil, err
		}
		list = append(list, idx)
	}
	return list, rows.Err()
}

// HasIndex reports whether name is a registered full-text index.
func (s *Store) HasIndex(ctx context.Context, name string) (bool, error) {
	if s.isClosed() {
		return false, errors.ErrDBNotOpen
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_fts_indexes WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup index: %w", err)
	}
	return n > 0, nil
}
