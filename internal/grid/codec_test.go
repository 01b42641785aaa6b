package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Encode_Decode_Round_Trips_When_Cells_Contain_Special_Characters(t *testing.T) {
	t.Parallel()

	g := Grid{
		{"name", "note", "amount"},
		{"bob", "likes, commas", "1"},
		{"amy", `says "hi"`, ""},
		{"multi\nline", "tab\there", " leading space"},
		{"a\r\nb", "bare\rreturn", "ends\r"},
		{},
		{""},
		{"", ""},
		{"ragged"},
	}

	got, err := Decode(Encode(g))
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func Test_Encode_Writes_Empty_Row_As_Empty_Line(t *testing.T) {
	t.Parallel()

	got := string(Encode(Grid{{"a"}, {}, {""}, {"b", "c"}}))

	assert.Equal(t, "a\n\n\"\"\nb,c\n", got)
}

func Test_Encode_Is_Deterministic(t *testing.T) {
	t.Parallel()

	g := Grid{{"x", "y,z"}, {"1"}}

	assert.Equal(t, Encode(g), Encode(g.Clone()))
}

func Test_Decode_Accepts_CRLF_And_Missing_Trailing_Newline(t *testing.T) {
	t.Parallel()

	got, err := Decode([]byte("a,b\r\n\r\nc,\"d\ne\"\r\nlast"))
	require.NoError(t, err)

	want := Grid{{"a", "b"}, {}, {"c", "d\ne"}, {"last"}}
	assert.Equal(t, want, got)
}

func Test_Decode_Returns_Empty_Grid_When_Data_Is_Empty(t *testing.T) {
	t.Parallel()

	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func Test_Decode_Keeps_Quoted_Bytes_And_Literal_Quotes(t *testing.T) {
	t.Parallel()

	got, err := Decode([]byte("\"line1\r\nline2\",x\r\nsay \"hi\",\"a\"b\"\n"))
	require.NoError(t, err)

	want := Grid{{"line1\r\nline2", "x"}, {`say "hi"`, `a"b`}}
	assert.Equal(t, want, got)
}

func Test_Decode_Returns_ErrMalformed_When_Quote_Is_Not_Closed(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("a,b\n\"open,c\n"))
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "record 2")
}
