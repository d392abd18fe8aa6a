package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kartikbazzad/bunbase/docquery/internal/errors"
)

// DocumentFlags is the document-level flag set stored with every revision.
type DocumentFlags uint32

const (
	FlagDeleted        DocumentFlags = 1 << iota // Tombstone
	FlagConflicted                               // Has unresolved conflicting revisions
	FlagHasAttachments                           // Body references attachments

	FlagExists DocumentFlags = 0x1000 // Set on every row read back from the store

	storedFlags = FlagDeleted | FlagConflicted | FlagHasAttachments
)

func (f DocumentFlags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	if f&FlagDeleted != 0 {
		parts = append(parts, "deleted")
	}
	if f&FlagConflicted != 0 {
		parts = append(parts, "conflicted")
	}
	if f&FlagHasAttachments != 0 {
		parts = append(parts, "attachments")
	}
	if f&FlagExists != 0 {
		parts = append(parts, "exists")
	}
	return strings.Join(parts, "|")
}

// Document is one stored revision of a document.
type Document struct {
	ID         string
	Sequence   uint64
	RevisionID string
	Flags      DocumentFlags
	Body       []byte // nil for tombstones
}

// Revision identifies the revision produced by a write.
type Revision struct {
	DocID      string
	Sequence   uint64
	RevisionID string
}

// Generation returns the numeric prefix of a revision ID ("3-ab12.." -> 3).
func Generation(revID string) int {
	i := strings.IndexByte(revID, '-')
	if i <= 0 {
		return 0
	}
	gen, err := strconv.Atoi(revID[:i])
	if err != nil {
		return 0
	}
	return gen
}

func newRevisionID(generation int, body []byte, deleted bool) string {
	h := sha1.New()
	if deleted {
		h.Write([]byte("deleted"))
	} else {
		h.Write(body)
	}
	return fmt.Sprintf("%d-%s", generation, hex.EncodeToString(h.Sum(nil)))
}

// Put stores doc.Body as the next revision of doc.ID. Only FlagConflicted
// and FlagHasAttachments are taken from doc.Flags; Put always clears
// FlagDeleted.
func (s *Store) Put(ctx context.Context, doc Document) (Revision, error) {
	if doc.ID == "" {
		return Revision{}, errors.ErrInvalidDocID
	}
	if !json.Valid(doc.Body) {
		return Revision{}, errors.ErrInvalidJSON
	}
	flags := doc.Flags & (FlagConflicted | FlagHasAttachments)
	rev, err := s.write(ctx, doc.ID, doc.Body, flags, false)
	if err == nil {
		s.metrics.DocumentWrite("put")
	}
	return rev, err
}

// Delete writes a tombstone revision for id.
func (s *Store) Delete(ctx context.Context, id string) (Revision, error) {
	if id == "" {
		return Revision{}, errors.ErrInvalidDocID
	}
	rev, err := s.write(ctx, id, nil, FlagDeleted, true)
	if err == nil {
		s.metrics.DocumentWrite("delete")
	}
	return rev, err
}

func (s *Store) write(ctx context.Context, id string, body []byte, flags DocumentFlags, deleting bool) (Revision, error) {
	if s.isClosed() {
		return Revision{}, errors.ErrDBNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Revision{}, fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()

	var (
		version  string
		oldFlags DocumentFlags
	)
	err = tx.QueryRowContext(ctx, `SELECT version, flags FROM kv_default WHERE key = ?`, id).Scan(&version, &oldFlags)
	switch {
	case err == sql.ErrNoRows:
		if deleting {
			return Revision{}, errors.ErrDocNotFound
		}
	case err != nil:
		return Revision{}, fmt.Errorf("read current revision: %w", err)
	case deleting && oldFlags&FlagDeleted != 0:
		return Revision{}, errors.ErrDocNotFound
	}

	seq, err := lastSequence(ctx, tx)
	if err != nil {
		return Revision{}, err
	}
	seq++

	revID := newRevisionID(Generation(version)+1, body, deleting)

	var bodyArg any
	if !deleting {
		bodyArg = string(body)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_default (key, sequence, flags, version, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			sequence = excluded.sequence,
			flags = excluded.flags,
			version = excluded.version,
			body = excluded.body`,
		id, int64(seq), uint32(flags&storedFlags), revID, bodyArg)
	if err != nil {
		return Revision{}, fmt.Errorf("write document %q: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE kv_meta SET value = ? WHERE name = 'last_sequence'`, int64(seq)); err != nil {
		return Revision{}, fmt.Errorf("bump sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Revision{}, fmt.Errorf("commit write: %w", err)
	}

	s.logger.Debug("Wrote %q seq=%d rev=%s deleted=%v", id, seq, revID, deleting)
	s.notify(seq)
	return Revision{DocID: id, Sequence: seq, RevisionID: revID}, nil
}

// Get returns the current revision of id, including tombstones.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	if s.isClosed() {
		return nil, errors.ErrDBNotOpen
	}
	var (
		doc  = Document{ID: id}
		seq  int64
		body sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT sequence, flags, version, body FROM kv_default WHERE key = ?`, id).
		Scan(&seq, &doc.Flags, &doc.RevisionID, &body)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDocNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document %q: %w", id, err)
	}
	doc.Sequence = uint64(seq)
	doc.Flags |= FlagExists
	if body.Valid {
		doc.Body = []byte(body.String)
	}
	return &doc, nil
}

// Stats summarizes the store for diagnostics.
type Stats struct {
	Documents       int64
	Tombstones      int64
	LastSequence    uint64
	FileSizeBytes   uint64
	FullTextIndexes int
	OpenResources   int
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if s.isClosed() {
		return nil, errors.ErrDBNotOpen
	}
	st := &Stats{OpenResources: s.OpenResources()}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN (flags & 1) = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN (flags & 1) != 0 THEN 1 ELSE 0 END), 0)
		FROM kv_default`).Scan(&st.Documents, &st.Tombstones)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if st.LastSequence, err = lastSequence(ctx, s.db); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_fts_indexes`).Scan(&st.FullTextIndexes); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	var pageCount, pageSize uint64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
			st.FileSizeBytes = pageCount * pageSize
		}
	}
	return st, nil
}
