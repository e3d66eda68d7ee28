package engine

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/roach88/recordsdb/internal/document"
)

// CursorState is the lifecycle position of a Cursor.
type CursorState int

const (
	StateUnopened CursorState = iota
	StateOpen
	StateClosed
)

func (s CursorState) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrCursorClosed is returned by operations on a closed cursor.
	ErrCursorClosed = errors.New("cursor is closed")

	// ErrCursorNotOpen is returned by Next before Open.
	ErrCursorNotOpen = errors.New("cursor is not open")

	// ErrCursorOpen is returned by a second Open.
	ErrCursorOpen = errors.New("cursor is already open")
)

// opener fetches the first page of a result.
type opener func(ctx context.Context) (Page, PageSource, error)

// Cursor is a paged result.
//
// A cursor moves Unopened -> Open -> Closed. While open it holds the
// continuation token of the backend; Token is empty once the last page has
// been fetched. Close may be called any number of times.
//
// Cursor is safe for concurrent use.
type Cursor struct {
	mu      sync.Mutex
	state   CursorState
	open    opener
	src     PageSource
	token   string
	total   int64
	pending []document.Object
	backend Backend
}

func newCursor(backend Backend, open opener) *Cursor {
	return &Cursor{open: open, backend: backend}
}

// NewPageCursor wraps a finite in-memory result. It starts open.
func NewPageCursor(docs []document.Object, total int64) *Cursor {
	return &Cursor{state: StateOpen, pending: docs, total: total}
}

// Open fetches the first page. If it fails the cursor is closed and any
// backend resource opened by the attempt is released.
func (c *Cursor) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return ErrCursorClosed
	case StateOpen:
		return ErrCursorOpen
	}
	page, src, err := c.open(ctx)
	if err != nil {
		c.state = StateClosed
		if src != nil && page.Token != "" {
			_ = src.Release(context.WithoutCancel(ctx), page.Token)
		}
		return translate(err)
	}
	c.state = StateOpen
	c.src = src
	c.accept(page)
	return nil
}

func (c *Cursor) accept(page Page) {
	c.pending = page.Documents
	c.token = page.Token
	if page.Total > c.total {
		c.total = page.Total
	}
}

// Next returns the next page of documents, or io.EOF when none remain.
func (c *Cursor) Next(ctx context.Context) ([]document.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return nil, ErrCursorClosed
	case StateUnopened:
		return nil, ErrCursorNotOpen
	}
	if len(c.pending) > 0 {
		docs := c.pending
		c.pending = nil
		return docs, nil
	}
	if c.token == "" {
		return nil, io.EOF
	}
	page, err := c.src.Next(ctx, c.token)
	if err != nil {
		c.closeLocked(context.WithoutCancel(ctx))
		return nil, translate(err)
	}
	c.accept(page)
	if len(c.pending) == 0 && c.token == "" {
		return nil, io.EOF
	}
	docs := c.pending
	c.pending = nil
	return docs, nil
}

// HasMore reports whether Next can return more documents. It maps to the
// partial-result status of the remote cursor protocol.
func (c *Cursor) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && (len(c.pending) > 0 || c.token != "")
}

// Token returns the backend continuation token, empty when none.
func (c *Cursor) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Total is the number of matching documents reported by the backend.
func (c *Cursor) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// State returns the lifecycle position.
func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Backend names the backend serving the cursor.
func (c *Cursor) Backend() Backend {
	return c.backend
}

// Close releases the backend cursor. Closing a closed cursor is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked(ctx)
}

func (c *Cursor) closeLocked(ctx context.Context) error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	c.pending = nil
	token := c.token
	c.token = ""
	if c.src == nil || token == "" {
		return nil
	}
	if err := c.src.Release(ctx, token); err != nil {
		return translate(err)
	}
	return nil
}

// All drains the cursor and closes it.
func (c *Cursor) All(ctx context.Context) (docs []document.Object, err error) {
	defer func() {
		if cerr := c.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
	}()
	for {
		page, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, page...)
	}
}
