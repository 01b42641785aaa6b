package query

import (
	"testing"
)

// FuzzEvaluate_Never_Panics runs arbitrary query text against a fixed grid
// in both modes. Projected rows must line up with the headers.
func FuzzEvaluate_Never_Panics(f *testing.F) {
	for _, seed := range []string{
		"SELECT *",
		"select name, age where city = 'NYC' order by age desc",
		"SELECT `name` WHERE 2 = '30' AND",
		"SELECT name ORDER BY",
		"SELECT 'unterminated",
		"DELETE FROM x",
		"",
	} {
		f.Add(seed)
	}

	g := people()

	f.Fuzz(func(t *testing.T, text string) {
		_, _ = Evaluate(g, text, Options{Strict: true})

		res, err := Evaluate(g, text, Options{})
		if err != nil {
			return
		}

		for i, row := range res.Rows {
			if len(row) != len(res.Headers) && len(res.Headers) > 0 && !selectsAll(text) {
				t.Fatalf("row %d has %d cells, headers %v", i, len(row), res.Headers)
			}
		}
	})
}

func selectsAll(text string) bool {
	q, err := Parse(text, Options{})

	return err == nil && q.Star
}
