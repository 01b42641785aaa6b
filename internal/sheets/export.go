package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

const maxWorksheetName = 31

// Export writes spreadsheet id and all of its tabs to w as an xlsx
// workbook, one worksheet per tab in tab order. Cells are written as text.
func (s *Service) Export(ctx context.Context, id string, w io.Writer) error {
	const op = "export"

	if err := requireID(id); err != nil {
		return withContext(err, op, id)
	}

	tabs, err := s.reg.Tabs(ctx, id)
	if err != nil {
		return withContext(err, op, id)
	}

	book := excelize.NewFile()

	defer func() { _ = book.Close() }()

	used := make(map[string]bool)

	for i, tab := range tabs {
		name := worksheetName(tab.Name, used)

		if i == 0 {
			err = book.SetSheetName(book.GetSheetName(0), name)
		} else {
			_, err = book.NewSheet(name)
		}

		if err != nil {
			return withContext(fmt.Errorf("adding worksheet %q: %w", name, err), op, id)
		}

		err = s.exportTab(ctx, book, name, tab)
		if err != nil {
			return withContext(err, op, id)
		}
	}

	book.SetActiveSheet(0)

	err = book.Write(w)
	if err != nil {
		return withContext(fmt.Errorf("writing workbook: %w", err), op, id)
	}

	s.log.Printf("export %s: %d worksheets", id, len(tabs))

	return nil
}

func (s *Service) exportTab(ctx context.Context, book *excelize.File, sheet string, tab registry.Descriptor) error {
	return s.withLock(ctx, tab.File, true, func() error {
		g, err := s.grids.Load(ctx, tab.File)
		if errors.Is(err, grid.ErrNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		for r, row := range g {
			if len(row) == 0 {
				continue
			}

			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}

			err = book.SetSheetRow(sheet, cell, &row)
			if err != nil {
				return fmt.Errorf("writing row %d of %s: %w", r+1, tab.File, err)
			}
		}

		return nil
	})
}

// worksheetName maps a tab title to a name Excel accepts: at most 31
// characters, none of :\/?*[] and unique ignoring case.
func worksheetName(title string, used map[string]bool) string {
	base := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}

		return r
	}, strings.TrimSpace(title))

	base = strings.Trim(base, "'")
	if base == "" {
		base = "Sheet"
	}

	base = truncateRunes(base, maxWorksheetName)
	name := base

	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		name = truncateRunes(base, maxWorksheetName-len(suffix)) + suffix
	}

	used[strings.ToLower(name)] = true

	return name
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
