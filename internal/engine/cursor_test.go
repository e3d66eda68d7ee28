package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/document"
)

func openedCursor(t *testing.T, src *pagedSource) *Cursor {
	t.Helper()
	cur := newCursor(BackendSearch, func(context.Context) (Page, PageSource, error) {
		return src.first(), src, nil
	})
	require.Equal(t, StateUnopened, cur.State())
	require.NoError(t, cur.Open(context.Background()))
	return cur
}

func TestCursor_PagesThenEOF(t *testing.T) {
	src := &pagedSource{pages: [][]document.Object{docs("a", "b"), docs("c"), docs("d")}, total: 4}
	cur := openedCursor(t, src)
	ctx := context.Background()

	assert.Equal(t, StateOpen, cur.State())
	assert.Equal(t, "p1", cur.Token())
	assert.Equal(t, int64(4), cur.Total())

	var got []string
	for cur.HasMore() {
		page, err := cur.Next(ctx)
		require.NoError(t, err)
		for _, d := range page {
			got = append(got, string(d["_id"].(document.String)))
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	assert.Equal(t, []string{"p1", "p2"}, src.fetched)

	_, err := cur.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, cur.Close(ctx))
	assert.Empty(t, src.released, "exhausted cursor holds no backend token")
}

func TestCursor_CloseReleasesToken(t *testing.T) {
	src := &pagedSource{pages: [][]document.Object{docs("a"), docs("b")}}
	cur := openedCursor(t, src)
	ctx := context.Background()

	require.NoError(t, cur.Close(ctx))
	require.NoError(t, cur.Close(ctx))
	require.NoError(t, cur.Close(ctx))

	assert.Equal(t, []string{"p1"}, src.released)
	assert.Equal(t, StateClosed, cur.State())
	assert.False(t, cur.HasMore())
}

func TestCursor_RejectsOperationsWhenClosed(t *testing.T) {
	src := &pagedSource{pages: [][]document.Object{docs("a")}}
	cur := openedCursor(t, src)
	ctx := context.Background()
	require.NoError(t, cur.Close(ctx))

	_, err := cur.Next(ctx)
	assert.ErrorIs(t, err, ErrCursorClosed)
	assert.ErrorIs(t, cur.Open(ctx), ErrCursorClosed)
}

func TestCursor_NextBeforeOpen(t *testing.T) {
	cur := newCursor(BackendPrimary, func(context.Context) (Page, PageSource, error) {
		return Page{}, nil, nil
	})

	_, err := cur.Next(context.Background())
	assert.ErrorIs(t, err, ErrCursorNotOpen)
	assert.NoError(t, cur.Close(context.Background()))
	assert.Equal(t, StateClosed, cur.State())
}

func TestCursor_DoubleOpen(t *testing.T) {
	cur := openedCursor(t, &pagedSource{pages: [][]document.Object{docs("a")}})
	assert.ErrorIs(t, cur.Open(context.Background()), ErrCursorOpen)
}

func TestCursor_OpenFailureReleasesPartialCursor(t *testing.T) {
	src := &pagedSource{pages: [][]document.Object{docs("a"), docs("b")}}
	cur := newCursor(BackendSearch, func(context.Context) (Page, PageSource, error) {
		return src.first(), src, context.DeadlineExceeded
	})

	err := cur.Open(context.Background())
	require.Error(t, err)
	assert.True(t, dberr.IsUnavailable(err))
	assert.Equal(t, []string{"p1"}, src.released)
	assert.Equal(t, StateClosed, cur.State())
}

func TestCursor_NextFailureClosesAndReleases(t *testing.T) {
	src := &pagedSource{
		pages:  [][]document.Object{docs("a"), docs("b"), docs("c")},
		failAt: "p1",
		err:    dberr.Protocol(errors.New("bad scroll body"), "decode scroll response"),
	}
	cur := openedCursor(t, src)
	ctx := context.Background()

	_, err := cur.Next(ctx)
	require.NoError(t, err)
	_, err = cur.Next(ctx)
	assert.True(t, dberr.IsProtocol(err))

	assert.Equal(t, StateClosed, cur.State())
	assert.Equal(t, []string{"p1"}, src.released)
}

func TestCursor_All(t *testing.T) {
	src := &pagedSource{pages: [][]document.Object{docs("a"), docs("b")}}
	cur := openedCursor(t, src)

	all, err := cur.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, StateClosed, cur.State())
}

func TestNewPageCursor(t *testing.T) {
	cur := NewPageCursor(docs("a", "b"), 2)
	ctx := context.Background()

	assert.True(t, cur.HasMore())
	assert.Empty(t, cur.Token())
	page, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.False(t, cur.HasMore())

	_, err = cur.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, cur.Close(ctx))
}
