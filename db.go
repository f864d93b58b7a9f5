package main

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var db *sql.DB

var ErrNotFound = errors.New("not found")

func InitDB(dbPath string) error {
	var err error
	db, err = sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		sha1 TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		media_kind TEXT NOT NULL DEFAULT 'other',
		size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS logo_cache (
		org_name TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS upload_sessions (
		upload_id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		total_chunks INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'collecting',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS upload_chunks (
		upload_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		size INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		PRIMARY KEY (upload_id, chunk_index),
		FOREIGN KEY (upload_id) REFERENCES upload_sessions(upload_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_state ON upload_sessions(state, created_at);
	`

	_, err = db.Exec(schema)
	return err
}

// Asset metadata

type Asset struct {
	SHA1        string
	FileName    string
	ContentType string
	MediaKind   MediaKind
	Size        int64
	CreatedAt   time.Time
}

func AddAsset(asset Asset) error {
	_, err := db.Exec(
		"INSERT OR IGNORE INTO assets (sha1, file_name, content_type, media_kind, size) VALUES (?, ?, ?, ?, ?)",
		asset.SHA1, asset.FileName, asset.ContentType, string(asset.MediaKind), asset.Size,
	)
	return err
}

func GetAsset(sha1Hash string) (Asset, error) {
	var a Asset
	var kind string
	err := db.QueryRow(
		"SELECT sha1, file_name, content_type, media_kind, size, created_at FROM assets WHERE sha1 = ?",
		sha1Hash,
	).Scan(&a.SHA1, &a.FileName, &a.ContentType, &kind, &a.Size, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	a.MediaKind = MediaKind(kind)
	return a, err
}

func AssetExists(sha1Hash string) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM assets WHERE sha1 = ?)", sha1Hash).Scan(&exists)
	return exists, err
}

func ListAssets() ([]Asset, error) {
	rows, err := db.Query("SELECT sha1, file_name, content_type, media_kind, size, created_at FROM assets ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		var kind string
		if err := rows.Scan(&a.SHA1, &a.FileName, &a.ContentType, &kind, &a.Size, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.MediaKind = MediaKind(kind)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Logo cache. Keys are the exact trimmed org names the admin UI uses;
// no case folding or further normalization.

func GetLogoEntry(orgName string) (fileName, source string, err error) {
	err = db.QueryRow(
		"SELECT file_name, source FROM logo_cache WHERE org_name = ?",
		orgName,
	).Scan(&fileName, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return fileName, source, err
}

func PutLogoEntry(orgName, fileName, source string) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO logo_cache (org_name, file_name, source) VALUES (?, ?, ?)",
		orgName, fileName, source,
	)
	return err
}

// Upload sessions

type UploadSession struct {
	UploadID    string
	FileName    string
	ContentType string
	TotalChunks int
	State       string
	CreatedAt   time.Time
}

type ChunkRecord struct {
	Index    int
	Size     int64
	FilePath string
}

// CreateUploadSession stamps created_at via the driver so reaper cutoff
// comparisons use one serialization format throughout.
func CreateUploadSession(uploadID, fileName, contentType string, totalChunks int) error {
	_, err := db.Exec(
		"INSERT INTO upload_sessions (upload_id, file_name, content_type, total_chunks, created_at) VALUES (?, ?, ?, ?, ?)",
		uploadID, fileName, contentType, totalChunks, time.Now().UTC(),
	)
	return err
}

func GetUploadSession(uploadID string) (UploadSession, error) {
	var s UploadSession
	err := db.QueryRow(
		"SELECT upload_id, file_name, content_type, total_chunks, state, created_at FROM upload_sessions WHERE upload_id = ?",
		uploadID,
	).Scan(&s.UploadID, &s.FileName, &s.ContentType, &s.TotalChunks, &s.State, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UploadSession{}, ErrNotFound
	}
	return s, err
}

func SetUploadSessionState(uploadID, state string) error {
	_, err := db.Exec("UPDATE upload_sessions SET state = ? WHERE upload_id = ?", state, uploadID)
	return err
}

// SaveUploadChunk upserts so a retransmitted chunk overwrites its predecessor.
func SaveUploadChunk(uploadID string, index int, size int64, filePath string) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO upload_chunks (upload_id, chunk_index, size, file_path) VALUES (?, ?, ?, ?)",
		uploadID, index, size, filePath,
	)
	return err
}

// GetUploadChunks returns chunk records in ascending index order.
func GetUploadChunks(uploadID string) ([]ChunkRecord, error) {
	rows, err := db.Query(
		"SELECT chunk_index, size, file_path FROM upload_chunks WHERE upload_id = ? ORDER BY chunk_index",
		uploadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.Index, &c.Size, &c.FilePath); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func DeleteUploadChunks(uploadID string) error {
	_, err := db.Exec("DELETE FROM upload_chunks WHERE upload_id = ?", uploadID)
	return err
}

func DeleteUploadSession(uploadID string) error {
	if err := DeleteUploadChunks(uploadID); err != nil {
		return err
	}
	_, err := db.Exec("DELETE FROM upload_sessions WHERE upload_id = ?", uploadID)
	return err
}

// ListSessionsOlderThan returns sessions in the given state created before cutoff.
func ListSessionsOlderThan(state string, cutoff time.Time) ([]UploadSession, error) {
	rows, err := db.Query(
		"SELECT upload_id, file_name, content_type, total_chunks, state, created_at FROM upload_sessions WHERE state = ? AND created_at < ?",
		state, cutoff.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []UploadSession
	for rows.Next() {
		var s UploadSession
		if err := rows.Scan(&s.UploadID, &s.FileName, &s.ContentType, &s.TotalChunks, &s.State, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func CloseDB() {
	if db != nil {
		db.Close()
	}
}
