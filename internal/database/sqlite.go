package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"drivesync/internal/database/migrations"
	"drivesync/internal/drive"
	"drivesync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteIndex implements the drive.Index interface using SQLite with an
// FTS5 virtual table for free-text search over file names and
// descriptions.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

var _ drive.Index = (*SQLiteIndex)(nil)

// NewSQLiteIndex opens (or creates) the index at path and applies any
// pending migrations. path can be ":memory:" for an in-memory index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating index schema: %w", err)
	}
	return &SQLiteIndex{db: db, path: path}, nil
}

// NewSQLiteIndexFromDB wraps an existing connection. The caller is
// responsible for schema setup and for closing the connection.
func NewSQLiteIndexFromDB(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the index relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Tag rows cascade from file rows; SQLite ships with this OFF.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

const fileColumns = `id, content_id, file_name, content_hash, file_size, mime_type,
	folder_id, description, owner_address, storage_kind, encryption_algo,
	encryption_params, version, previous_content_id, created_at, updated_at`

// File operations

func (s *SQLiteIndex) InsertFile(rec *model.FileIndexRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertFileTx(tx, rec, false); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) InsertFileIfAbsent(rec *model.FileIndexRecord) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	err = insertFileTx(tx, rec, true)
	if errors.Is(err, errAlreadyPresent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing insert: %w", err)
	}
	return true, nil
}

var errAlreadyPresent = errors.New("content id already indexed")

// insertFileTx writes the file row, its text-index row, and its tags in
// one transaction so a failure cannot leave a dangling search entry.
func insertFileTx(tx *sql.Tx, rec *model.FileIndexRecord, ignoreConflict bool) error {
	verb := "INSERT"
	if ignoreConflict {
		verb = "INSERT OR IGNORE"
	}

	res, err := tx.Exec(verb+` INTO file_records (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ContentID, rec.FileName, rec.ContentHash, rec.FileSize,
		rec.MimeType, rec.FolderID, rec.Description, rec.OwnerAddress,
		rec.StorageKind, rec.EncryptionAlgo, rec.EncryptionParams,
		rec.Version, rec.PreviousContentID, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting file record: %w", err)
	}

	if ignoreConflict {
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking insert result: %w", err)
		}
		if affected == 0 {
			return errAlreadyPresent
		}
	}

	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading rowid: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO file_search (rowid, file_name, description) VALUES (?, ?, ?)`,
		rowid, rec.FileName, rec.Description); err != nil {
		return fmt.Errorf("inserting search row: %w", err)
	}

	for _, tag := range rec.Tags {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO file_tags (file_id, tag) VALUES (?, ?)`,
			rec.ID, tag); err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag, err)
		}
	}
	return nil
}

func (s *SQLiteIndex) UpdateFile(id string, upd drive.FileUpdate) error {
	set := []string{}
	args := []any{}
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}

	if upd.FileName != nil {
		add("file_name", *upd.FileName)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.FolderID != nil {
		add("folder_id", *upd.FolderID)
	}
	if upd.ContentHash != nil {
		add("content_hash", *upd.ContentHash)
	}
	if upd.FileSize != nil {
		add("file_size", *upd.FileSize)
	}
	if upd.MimeType != nil {
		add("mime_type", *upd.MimeType)
	}
	if upd.Version != nil {
		add("version", *upd.Version)
	}
	if upd.UpdatedAt != nil {
		add("updated_at", *upd.UpdatedAt)
	}
	if len(set) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	args = append(args, id)
	res, err := tx.Exec(`UPDATE file_records SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating file record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return drive.ErrNotFound
	}

	// Keep the text index in step with name/description changes.
	if upd.FileName != nil || upd.Description != nil {
		var rowid int64
		var fileName, description string
		err := tx.QueryRow(
			`SELECT rowid, file_name, description FROM file_records WHERE id = ?`, id).
			Scan(&rowid, &fileName, &description)
		if err != nil {
			return fmt.Errorf("reading updated record: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM file_search WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("removing stale search row: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO file_search (rowid, file_name, description) VALUES (?, ?, ?)`,
			rowid, fileName, description); err != nil {
			return fmt.Errorf("reinserting search row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing update: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) DeleteFile(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRow(`SELECT rowid FROM file_records WHERE id = ?`, id).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return drive.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up file record: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM file_search WHERE rowid = ?`, rowid); err != nil {
		return fmt.Errorf("deleting search row: %w", err)
	}
	// Tag rows cascade.
	if _, err := tx.Exec(`DELETE FROM file_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) GetFileByID(id string) (*model.FileIndexRecord, error) {
	return s.getFile(`SELECT `+fileColumns+` FROM file_records WHERE id = ?`, id)
}

func (s *SQLiteIndex) GetFileByContentID(contentID string) (*model.FileIndexRecord, error) {
	return s.getFile(`SELECT `+fileColumns+` FROM file_records WHERE content_id = ?`, contentID)
}

func (s *SQLiteIndex) FindCurrentByHash(ownerAddress, contentHash string) (*model.FileIndexRecord, error) {
	return s.getFile(`SELECT `+fileColumns+` FROM file_records
		WHERE owner_address = ? AND content_hash = ?
		ORDER BY version DESC, rowid DESC LIMIT 1`, ownerAddress, contentHash)
}

func (s *SQLiteIndex) getFile(query string, args ...any) (*model.FileIndexRecord, error) {
	rec, err := scanFile(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding file record: %w", err)
	}
	if err := s.loadTags(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteIndex) SearchFiles(ownerAddress string, opts drive.SearchOptions) ([]*model.FileIndexRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE owner_address = ?`
	args := []any{ownerAddress}

	if opts.Query != "" {
		query += ` AND rowid IN (SELECT rowid FROM file_search WHERE file_search MATCH ?)`
		args = append(args, FTSQuery(opts.Query))
	}
	if opts.RootOnly {
		query += ` AND folder_id = ''`
	} else if opts.FolderID != "" {
		query += ` AND folder_id = ?`
		args = append(args, opts.FolderID)
	}
	for _, tag := range opts.Tags {
		query += ` AND EXISTS (SELECT 1 FROM file_tags t WHERE t.file_id = file_records.id AND t.tag = ?)`
		args = append(args, tag)
	}
	if opts.MimePrefix != "" {
		query += ` AND mime_type LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(opts.MimePrefix)+"%")
	}
	if opts.Encrypted != nil {
		if *opts.Encrypted {
			query += ` AND encryption_algo != ''`
		} else {
			query += ` AND encryption_algo = ''`
		}
	}
	if !opts.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, opts.CreatedBefore)
	}

	query += ` ORDER BY created_at DESC, rowid DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, opts.Offset)
	}

	return s.listFiles(query, args...)
}

func (s *SQLiteIndex) ListFilesByOwner(ownerAddress string) ([]*model.FileIndexRecord, error) {
	return s.listFiles(`SELECT `+fileColumns+` FROM file_records
		WHERE owner_address = ? ORDER BY created_at DESC, rowid DESC`, ownerAddress)
}

func (s *SQLiteIndex) CountFilesByOwner(ownerAddress string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM file_records WHERE owner_address = ?`, ownerAddress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting file records: %w", err)
	}
	return count, nil
}

func (s *SQLiteIndex) listFiles(query string, args ...any) ([]*model.FileIndexRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying file records: %w", err)
	}
	defer rows.Close()

	var records []*model.FileIndexRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file records: %w", err)
	}

	for _, rec := range records {
		if err := s.loadTags(rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *SQLiteIndex) loadTags(rec *model.FileIndexRecord) error {
	rows, err := s.db.Query(`SELECT tag FROM file_tags WHERE file_id = ? ORDER BY tag`, rec.ID)
	if err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("scanning tag: %w", err)
		}
		rec.Tags = append(rec.Tags, tag)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.FileIndexRecord, error) {
	var rec model.FileIndexRecord
	err := row.Scan(&rec.ID, &rec.ContentID, &rec.FileName, &rec.ContentHash,
		&rec.FileSize, &rec.MimeType, &rec.FolderID, &rec.Description,
		&rec.OwnerAddress, &rec.StorageKind, &rec.EncryptionAlgo,
		&rec.EncryptionParams, &rec.Version, &rec.PreviousContentID,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Folder operations

func (s *SQLiteIndex) CreateFolder(folder *model.Folder) error {
	_, err := s.db.Exec(`INSERT INTO folders
		(id, name, parent_id, owner_address, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		folder.ID, folder.Name, folder.ParentID, folder.OwnerAddress,
		folder.Color, folder.CreatedAt, folder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) GetFolderByID(id string) (*model.Folder, error) {
	var f model.Folder
	err := s.db.QueryRow(`SELECT id, name, parent_id, owner_address, color, created_at, updated_at
		FROM folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.ParentID, &f.OwnerAddress, &f.Color, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding folder: %w", err)
	}
	return &f, nil
}

func (s *SQLiteIndex) ListFoldersByOwner(ownerAddress string) ([]*model.Folder, error) {
	rows, err := s.db.Query(`SELECT id, name, parent_id, owner_address, color, created_at, updated_at
		FROM folders WHERE owner_address = ? ORDER BY name`, ownerAddress)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		var f model.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.OwnerAddress,
			&f.Color, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning folder: %w", err)
		}
		folders = append(folders, &f)
	}
	return folders, rows.Err()
}

func (s *SQLiteIndex) DeleteFolder(id string) error {
	res, err := s.db.Exec(`DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return drive.ErrNotFound
	}
	return nil
}

// CheckMigrations verifies the schema is current.
func (s *SQLiteIndex) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// escapeLike escapes LIKE wildcards so a MIME prefix is matched
// literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
