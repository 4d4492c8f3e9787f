package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileQueue struct {
	path   string
	mu     sync.Mutex
	boards map[string][]PendingWrite
}

type fileQueueState struct {
	Boards map[string][]PendingWrite `json:"boards"`
}

// NewFileQueue returns a queue persisted as a single JSON snapshot at path.
// Every mutation is written through a temp file and an atomic rename; a
// missing file is an empty queue.
func NewFileQueue(path string) (Queue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	q := &fileQueue{path: path, boards: make(map[string][]PendingWrite)}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *fileQueue) Append(ctx context.Context, boardID string, write PendingWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(boardID) == "" {
		return ErrInvalidInput
	}
	if err := write.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.boards[boardID] = append(q.boards[boardID], write.clone())
	if err := q.saveLocked(); err != nil {
		entries := q.boards[boardID]
		q.boards[boardID] = entries[:len(entries)-1]
		return err
	}
	return nil
}

func (q *fileQueue) All(ctx context.Context, boardID string) ([]PendingWrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.boards[boardID]
	out := make([]PendingWrite, 0, len(entries))
	for _, w := range entries {
		out = append(out, w.clone())
	}
	return out, nil
}

func (q *fileQueue) Clear(ctx context.Context, boardID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, ok := q.boards[boardID]
	if !ok {
		return nil
	}
	delete(q.boards, boardID)
	if err := q.saveLocked(); err != nil {
		q.boards[boardID] = entries
		return err
	}
	return nil
}

func (q *fileQueue) Close() error { return nil }

func (q *fileQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Boards != nil {
		q.boards = snapshot.Boards
	}
	return nil
}

func (q *fileQueue) saveLocked() error {
	data, err := json.Marshal(fileQueueState{Boards: q.boards})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
