package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Upload session states. Terminal states never transition; a retry after
// a failure needs a fresh upload id.
const (
	sessionCollecting = "collecting"
	sessionAssembling = "assembling"
	sessionComplete   = "complete"
	sessionFailed     = "failed"
	sessionExpired    = "expired"
)

var (
	ErrSessionExpired  = errors.New("upload session expired")
	ErrSessionFinished = errors.New("upload session already finished")
	ErrChunkMismatch   = errors.New("chunk metadata does not match session")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrChunkMissing    = errors.New("missing chunk at assembly time")
)

// ChunkRequest carries one chunk of a chunked upload. The first chunk
// seen for an upload id implicitly creates the session; its fileName,
// contentType and totalChunks are trusted for the whole session.
type ChunkRequest struct {
	UploadID    string
	Index       int
	TotalChunks int
	FileName    string
	ContentType string
	Data        []byte
}

// ChunkResult is the acknowledgement for one chunk. URL is set only when
// Final is true; the client-side loop depends on that asymmetry.
type ChunkResult struct {
	Final bool
	URL   string
}

// Assembler accumulates chunks on disk, keyed by (uploadId, chunkIndex),
// and concatenates them in index order when the final index arrives.
// Chunks survive a process restart; abandoned sessions are reclaimed by
// the reaper.
type Assembler struct {
	storage *Storage
	maxSize int64
}

func NewAssembler(storage *Storage, maxSize int64) *Assembler {
	return &Assembler{storage: storage, maxSize: maxSize}
}

func (a *Assembler) AcceptChunk(req ChunkRequest) (*ChunkResult, error) {
	if req.TotalChunks <= 0 {
		return nil, fmt.Errorf("%w: totalChunks must be positive", ErrChunkOutOfRange)
	}
	if req.Index < 0 || req.Index >= req.TotalChunks {
		return nil, fmt.Errorf("%w: index %d with totalChunks %d", ErrChunkOutOfRange, req.Index, req.TotalChunks)
	}

	session, err := GetUploadSession(req.UploadID)
	if errors.Is(err, ErrNotFound) {
		if err := CreateUploadSession(req.UploadID, req.FileName, req.ContentType, req.TotalChunks); err != nil {
			return nil, fmt.Errorf("can't create upload session: %w", err)
		}
		session, err = GetUploadSession(req.UploadID)
	}
	if err != nil {
		return nil, err
	}

	switch session.State {
	case sessionCollecting:
	case sessionExpired:
		return nil, ErrSessionExpired
	default:
		return nil, ErrSessionFinished
	}

	if session.TotalChunks != req.TotalChunks {
		return nil, fmt.Errorf("%w: totalChunks %d, session has %d", ErrChunkMismatch, req.TotalChunks, session.TotalChunks)
	}

	if err := a.retainChunk(req); err != nil {
		return nil, err
	}

	if req.Index != req.TotalChunks-1 {
		return &ChunkResult{}, nil
	}

	url, err := a.assemble(session)
	if err != nil {
		return nil, err
	}
	return &ChunkResult{Final: true, URL: url}, nil
}

func (a *Assembler) retainChunk(req ChunkRequest) error {
	dir := filepath.Join(a.storage.ChunkDir(), req.UploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("can't create chunk directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("chunk-%d", req.Index))
	if err := os.WriteFile(path, req.Data, 0644); err != nil {
		return fmt.Errorf("can't write chunk: %w", err)
	}

	if err := SaveUploadChunk(req.UploadID, req.Index, int64(len(req.Data)), path); err != nil {
		os.Remove(path)
		return fmt.Errorf("can't record chunk: %w", err)
	}
	return nil
}

// assemble concatenates the retained chunks in ascending index order and
// pushes the result through the same persistence path as a direct upload.
// A gap in the index range is fatal for the session.
func (a *Assembler) assemble(session UploadSession) (string, error) {
	if err := SetUploadSessionState(session.UploadID, sessionAssembling); err != nil {
		return "", err
	}

	chunks, err := GetUploadChunks(session.UploadID)
	if err != nil {
		a.fail(session.UploadID)
		return "", err
	}

	if err := verifyContiguous(chunks, session.TotalChunks); err != nil {
		a.fail(session.UploadID)
		return "", err
	}

	tempFile, err := os.CreateTemp(a.storage.basePath, "assemble-*")
	if err != nil {
		a.fail(session.UploadID)
		return "", err
	}
	defer os.Remove(tempFile.Name())

	var total int64
	for _, chunk := range chunks {
		part, err := os.Open(chunk.FilePath)
		if err != nil {
			tempFile.Close()
			a.fail(session.UploadID)
			return "", fmt.Errorf("can't read chunk %d: %w", chunk.Index, err)
		}
		n, err := io.Copy(tempFile, part)
		part.Close()
		if err != nil {
			tempFile.Close()
			a.fail(session.UploadID)
			return "", fmt.Errorf("can't concatenate chunk %d: %w", chunk.Index, err)
		}
		total += n
		if a.maxSize > 0 && total > a.maxSize {
			tempFile.Close()
			a.fail(session.UploadID)
			return "", fmt.Errorf("assembled upload exceeds %s limit", humanize.Bytes(uint64(a.maxSize)))
		}
	}

	if _, err := tempFile.Seek(0, io.SeekStart); err != nil {
		tempFile.Close()
		a.fail(session.UploadID)
		return "", err
	}

	sha1Hash, size, err := a.storage.Store(tempFile)
	tempFile.Close()
	if err != nil {
		a.fail(session.UploadID)
		return "", fmt.Errorf("can't persist assembled upload: %w", err)
	}

	asset := Asset{
		SHA1:        sha1Hash,
		FileName:    session.FileName,
		ContentType: session.ContentType,
		MediaKind:   ResolveMediaKind(session.ContentType),
		Size:        size,
	}
	if err := AddAsset(asset); err != nil {
		a.fail(session.UploadID)
		return "", fmt.Errorf("can't record assembled asset: %w", err)
	}

	// Leave a terminal tombstone so a retransmitted final chunk gets a
	// clean rejection instead of implicitly opening a new session.
	if err := SetUploadSessionState(session.UploadID, sessionComplete); err != nil {
		log.Printf("Failed to mark session %s complete: %v", session.UploadID, err)
	}
	a.removeChunkFiles(session.UploadID)
	if err := DeleteUploadChunks(session.UploadID); err != nil {
		log.Printf("Failed to clean up chunks for %s: %v", session.UploadID, err)
	}

	log.Printf("Assembled upload %s into %s (%s, %d chunks)",
		session.UploadID, sha1Hash, humanize.Bytes(uint64(size)), session.TotalChunks)

	return "/api/file/" + sha1Hash, nil
}

// fail marks the session terminal and drops its chunk files. The session
// row stays behind so a late chunk gets a clear rejection instead of
// silently opening a new session.
func (a *Assembler) fail(uploadID string) {
	if err := SetUploadSessionState(uploadID, sessionFailed); err != nil {
		log.Printf("Failed to mark session %s failed: %v", uploadID, err)
	}
	a.removeChunkFiles(uploadID)
	if err := DeleteUploadChunks(uploadID); err != nil {
		log.Printf("Failed to delete chunk records for %s: %v", uploadID, err)
	}
}

func (a *Assembler) removeChunkFiles(uploadID string) {
	dir := filepath.Join(a.storage.ChunkDir(), uploadID)
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("Failed to remove chunk directory %s: %v", dir, err)
	}
}

func verifyContiguous(chunks []ChunkRecord, totalChunks int) error {
	if len(chunks) != totalChunks {
		return fmt.Errorf("%w: have %d of %d chunks", ErrChunkMissing, len(chunks), totalChunks)
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			return fmt.Errorf("%w: index %d", ErrChunkMissing, i)
		}
	}
	return nil
}

// ReapSessions expires collecting sessions older than ttl and purges
// terminal tombstones older than twice that. Returns how many
// collecting sessions were expired.
func (a *Assembler) ReapSessions(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)

	// Purge old terminal tombstones first, so a session expired in this
	// pass keeps its tombstone for at least one more ttl window.
	for _, state := range []string{sessionComplete, sessionExpired, sessionFailed} {
		old, err := ListSessionsOlderThan(state, cutoff.Add(-ttl))
		if err != nil {
			return 0, err
		}
		for _, session := range old {
			if err := DeleteUploadSession(session.UploadID); err != nil {
				log.Printf("Failed to purge session %s: %v", session.UploadID, err)
			}
		}
	}

	stale, err := ListSessionsOlderThan(sessionCollecting, cutoff)
	if err != nil {
		return 0, err
	}

	for _, session := range stale {
		if err := SetUploadSessionState(session.UploadID, sessionExpired); err != nil {
			log.Printf("Failed to expire session %s: %v", session.UploadID, err)
			continue
		}
		a.removeChunkFiles(session.UploadID)
		if err := DeleteUploadChunks(session.UploadID); err != nil {
			log.Printf("Failed to delete chunk records for %s: %v", session.UploadID, err)
		}
		log.Printf("Expired upload session %s (age > %s)", session.UploadID, ttl)
	}

	return len(stale), nil
}

// SessionReaper periodically reclaims abandoned upload sessions.
type SessionReaper struct {
	assembler *Assembler
	ttl       time.Duration
	interval  time.Duration
	done      chan struct{}
}

func NewSessionReaper(assembler *Assembler, ttl, interval time.Duration) *SessionReaper {
	return &SessionReaper{
		assembler: assembler,
		ttl:       ttl,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start begins the reap loop in a background goroutine. It runs once
// immediately, then on every tick until the context is cancelled.
func (r *SessionReaper) Start(ctx context.Context) {
	log.Printf("Session reaper started (ttl %s, interval %s)", r.ttl, r.interval)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.run()

		for {
			select {
			case <-ticker.C:
				r.run()
			case <-ctx.Done():
				close(r.done)
				return
			}
		}
	}()
}

// Wait blocks until the reaper has fully stopped.
func (r *SessionReaper) Wait() {
	<-r.done
}

func (r *SessionReaper) run() {
	reaped, err := r.assembler.ReapSessions(r.ttl)
	if err != nil {
		log.Printf("Session reap failed: %v", err)
		return
	}
	if reaped > 0 {
		log.Printf("Reaped %d abandoned upload sessions", reaped)
	}
}
