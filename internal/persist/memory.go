package persist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
)

// MemoryClient keeps objects in process memory. It backs demo runs and
// tests; the failure hook lets callers exercise offline degradation without
// a real backend.
type MemoryClient struct {
	mu      sync.Mutex
	objects map[string]board.Object
	failure error
}

// NewMemoryClient returns an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string]board.Object)}
}

// FailWith forces every subsequent call to fail with err. Pass nil to
// restore normal operation.
func (c *MemoryClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Seed inserts objects directly, bypassing the failure hook.
func (c *MemoryClient) Seed(objects ...board.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, obj := range objects {
		c.objects[obj.ID] = obj.Clone()
	}
}

func (c *MemoryClient) FetchAll(ctx context.Context, boardID string) ([]board.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(boardID) == "" {
		return nil, fmt.Errorf("%w: board id is required", ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return nil, c.failure
	}
	objects := make([]board.Object, 0)
	for _, obj := range c.objects {
		if obj.BoardID == boardID {
			objects = append(objects, obj.Clone())
		}
	}
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].CreatedAt != objects[j].CreatedAt {
			return objects[i].CreatedAt < objects[j].CreatedAt
		}
		return objects[i].ID < objects[j].ID
	})
	return objects, nil
}

func (c *MemoryClient) Create(ctx context.Context, obj board.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(obj.ID) == "" || strings.TrimSpace(obj.BoardID) == "" {
		return fmt.Errorf("%w: object id and board id are required", ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	c.objects[obj.ID] = obj.Clone()
	return nil
}

func (c *MemoryClient) Patch(ctx context.Context, objectID string, changes map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(objectID) == "" {
		return fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	obj, ok := c.objects[objectID]
	if !ok {
		return fmt.Errorf("patch %s: %w", objectID, ErrNotFound)
	}
	c.objects[objectID] = board.ApplyChanges(obj, changes)
	return nil
}

func (c *MemoryClient) Delete(ctx context.Context, objectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(objectID) == "" {
		return fmt.Errorf("%w: object id is required", ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	if _, ok := c.objects[objectID]; !ok {
		return fmt.Errorf("delete %s: %w", objectID, ErrNotFound)
	}
	delete(c.objects, objectID)
	return nil
}

func (c *MemoryClient) Close() error {
	return nil
}
