package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/sheetfs/internal/blob"
)

func Test_Store_Load_Returns_ErrNotFound_When_Blob_Is_Missing(t *testing.T) {
	t.Parallel()

	s := NewStore(blob.NewMem())

	_, err := s.Load(context.Background(), "missing.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "err=%v", err)
}

func Test_Store_LoadOrEmpty_Returns_Empty_Grid_When_Blob_Is_Missing(t *testing.T) {
	t.Parallel()

	s := NewStore(blob.NewMem())

	g, err := s.LoadOrEmpty(context.Background(), "missing.csv")
	require.NoError(t, err)
	assert.Empty(t, g)
}

// Contract: writing identical values to the same range twice leaves
// byte-identical files.
func Test_Store_Save_Is_Idempotent_For_Identical_Writes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := blob.NewMem()
	s := NewStore(mem)

	write := func() []byte {
		g, err := s.LoadOrEmpty(ctx, "s.csv")
		require.NoError(t, err)

		g, _ = Write(g, Address{Row: 1, Col: 1}, [][]string{{"a", "b,c"}, {`"q"`}})
		require.NoError(t, s.Save(ctx, "s.csv", g))

		data, err := mem.Read(ctx, "s.csv")
		require.NoError(t, err)

		return data
	}

	first := write()
	second := write()

	assert.Equal(t, string(first), string(second))
}
