package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	dataExt = ".csv"
	metaExt = ".meta"
)

// Descriptor maps a sheet id to its data file. It is persisted as a JSON
// side-car next to the data file ("budget.csv" -> "budget.meta").
//
// A descriptor with a Parent is a tab of that spreadsheet. Tabs carry a
// numeric TabID that is unique within their parent; the spreadsheet itself
// is tab 0.
type Descriptor struct {
	ID        string    `json:"spreadsheet_id"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	CreatedAt time.Time `json:"created_at"`

	Parent string `json:"parent_sheet,omitempty"`
	TabID  int64  `json:"sheet_id,omitempty"`
}

// IsTab reports whether d describes a tab rather than a spreadsheet.
func (d Descriptor) IsTab() bool {
	return d.Parent != ""
}

// MetaName returns the blob name of d's descriptor side-car.
func (d Descriptor) MetaName() string {
	return metaNameFor(d.File)
}

func metaNameFor(file string) string {
	return strings.TrimSuffix(file, dataExt) + metaExt
}

func encodeDescriptor(d Descriptor) ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding descriptor %s: %w", d.ID, err)
	}

	return append(data, '\n'), nil
}

// decodeDescriptor parses a side-car. Side-cars written by older tools
// carry "file_path" instead of "file"; the base name of that path is used.
func decodeDescriptor(name string, data []byte) (Descriptor, error) {
	var raw struct {
		Descriptor

		FilePath string `json:"file_path"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %w", ErrCorruptDescriptor, name, err)
	}

	d := raw.Descriptor
	if d.File == "" && raw.FilePath != "" {
		d.File = baseName(raw.FilePath)
	}

	if d.ID == "" || d.File == "" {
		return Descriptor{}, fmt.Errorf("%w: %s: missing spreadsheet_id or file", ErrCorruptDescriptor, name)
	}

	return d, nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}

	return path
}
