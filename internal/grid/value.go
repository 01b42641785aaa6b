package grid

import "github.com/shopspring/decimal"

// ExtendedValue is the typed value of a cell in a batch request. It is a
// discriminated union: at most one field is expected to be set.
//
// When several are set, precedence is string, then number, then bool. When
// none is set (including tags this package does not know, such as
// formulaValue) the cell text is "".
type ExtendedValue struct {
	StringValue *string          `json:"stringValue,omitempty"`
	NumberValue *decimal.Decimal `json:"numberValue,omitempty"`
	BoolValue   *bool            `json:"boolValue,omitempty"`
}

// Text returns the cell text for v.
//
// Numbers render as plain decimal text without exponent or trailing zeros
// (5 -> "5", 2.50 -> "2.5"). Booleans render as "True" and "False".
func (v *ExtendedValue) Text() string {
	switch {
	case v == nil:
		return ""
	case v.StringValue != nil:
		return *v.StringValue
	case v.NumberValue != nil:
		return v.NumberValue.String()
	case v.BoolValue != nil:
		if *v.BoolValue {
			return "True"
		}

		return "False"
	default:
		return ""
	}
}

// StringValue returns an ExtendedValue holding s.
func StringValue(s string) *ExtendedValue {
	return &ExtendedValue{StringValue: &s}
}

// NumberValue returns an ExtendedValue holding f.
func NumberValue(f float64) *ExtendedValue {
	d := decimal.NewFromFloat(f)

	return &ExtendedValue{NumberValue: &d}
}

// BoolValue returns an ExtendedValue holding b.
func BoolValue(b bool) *ExtendedValue {
	return &ExtendedValue{BoolValue: &b}
}

// CellData wraps the value entered into a cell.
type CellData struct {
	UserEnteredValue *ExtendedValue `json:"userEnteredValue,omitempty"`
}

// RowData is one row of cells in a batch request.
type RowData struct {
	Values []CellData `json:"values"`
}

// Texts renders every row to cell text.
func Texts(rows []RowData) [][]string {
	out := make([][]string, len(rows))

	for i, row := range rows {
		cells := make([]string, len(row.Values))
		for j, c := range row.Values {
			cells[j] = c.UserEnteredValue.Text()
		}

		out[i] = cells
	}

	return out
}
