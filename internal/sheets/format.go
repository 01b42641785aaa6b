package sheets

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/calvinalkan/sheetfs/internal/a1"
	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

// Formatting holds the side-car records of a spreadsheet. Values are the
// payloads as they were stored.
type Formatting struct {
	Formats map[string]json.RawMessage `json:"formats"`
	Filters map[string]json.RawMessage `json:"filters"`
}

func sidecarLockKey(file string) string {
	return file + ".sidecar"
}

// FormatCells records an opaque format payload for rangeExpr on tab tabID
// of spreadsheet id. A later call for the same range replaces it.
func (s *Service) FormatCells(ctx context.Context, id string, tabID int64, rangeExpr string, format json.RawMessage) error {
	const op = "format"

	rng, err := sidecarRange(rangeExpr)
	if err != nil {
		return withContext(err, op, id)
	}

	if len(format) == 0 {
		return withContext(invalidf("format is required"), op, id)
	}

	err = s.withSidecars(ctx, id, tabID, func(root registry.Descriptor) error {
		return s.reg.Sidecars().PutFormat(ctx, root.File, registry.FormatKey(tabID, rng), format)
	})
	if err != nil {
		return withContext(err, op, id)
	}

	return nil
}

// CreateFilter records a basic filter over rangeExpr and returns its id.
func (s *Service) CreateFilter(ctx context.Context, id string, tabID int64, rangeExpr, title string) (string, error) {
	const op = "filter"

	rng, err := sidecarRange(rangeExpr)
	if err != nil {
		return "", withContext(err, op, id)
	}

	payload, err := json.Marshal(map[string]any{
		"range":      rng,
		"title":      title,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return "", withContext(err, op, id)
	}

	var filterID string

	err = s.withSidecars(ctx, id, tabID, func(root registry.Descriptor) error {
		existing, err := s.reg.Sidecars().Filters(ctx, root.File)
		if err != nil {
			return err
		}

		filterID = nextRecordID(existing, func(n string) string { return registry.FilterKey(tabID, n) })

		return s.reg.Sidecars().PutFilter(ctx, root.File, registry.FilterKey(tabID, filterID), payload)
	})
	if err != nil {
		return "", withContext(err, op, id)
	}

	return filterID, nil
}

// FreezePanes records the number of frozen rows and columns of tab tabID.
func (s *Service) FreezePanes(ctx context.Context, id string, tabID int64, rows, cols int) error {
	const op = "freeze"

	if rows < 0 || cols < 0 {
		return withContext(invalidf("frozen rows and columns must be >= 0"), op, id)
	}

	payload, err := json.Marshal(map[string]int{"rows": rows, "columns": cols})
	if err != nil {
		return withContext(err, op, id)
	}

	err = s.withSidecars(ctx, id, tabID, func(root registry.Descriptor) error {
		return s.reg.Sidecars().PutFormat(ctx, root.File, registry.FreezeKey(tabID), payload)
	})
	if err != nil {
		return withContext(err, op, id)
	}

	return nil
}

// AddConditionalFormat records a conditional-format rule over rangeExpr and
// returns its id. ruleType and rule are stored, not evaluated.
func (s *Service) AddConditionalFormat(ctx context.Context, id string, tabID int64, rangeExpr, ruleType string, rule json.RawMessage) (string, error) {
	const op = "cond-format"

	rng, err := sidecarRange(rangeExpr)
	if err != nil {
		return "", withContext(err, op, id)
	}

	if strings.TrimSpace(ruleType) == "" {
		return "", withContext(invalidf("rule type is required"), op, id)
	}

	if len(rule) == 0 {
		rule = json.RawMessage("{}")
	}

	payload, err := json.Marshal(struct {
		Range string          `json:"range"`
		Type  string          `json:"type"`
		Rule  json.RawMessage `json:"rule"`
	}{rng, ruleType, rule})
	if err != nil {
		return "", withContext(invalidf("rule is not valid JSON"), op, id)
	}

	var ruleID string

	err = s.withSidecars(ctx, id, tabID, func(root registry.Descriptor) error {
		existing, err := s.reg.Sidecars().Formats(ctx, root.File)
		if err != nil {
			return err
		}

		ruleID = nextRecordID(existing, func(n string) string { return registry.CondKey(tabID, n) })

		return s.reg.Sidecars().PutFormat(ctx, root.File, registry.CondKey(tabID, ruleID), payload)
	})
	if err != nil {
		return "", withContext(err, op, id)
	}

	return ruleID, nil
}

// Formatting returns every side-car record of spreadsheet id.
func (s *Service) Formatting(ctx context.Context, id string) (Formatting, error) {
	const op = "formatting"

	if err := requireID(id); err != nil {
		return Formatting{}, withContext(err, op, id)
	}

	root, err := s.reg.Resolve(ctx, id)
	if err != nil {
		return Formatting{}, withContext(err, op, id)
	}

	var out Formatting

	err = s.withLock(ctx, sidecarLockKey(root.File), true, func() error {
		out.Formats, err = s.reg.Sidecars().Formats(ctx, root.File)
		if err != nil {
			return err
		}

		out.Filters, err = s.reg.Sidecars().Filters(ctx, root.File)

		return err
	})
	if err != nil {
		return Formatting{}, withContext(err, op, id)
	}

	return out, nil
}

// withSidecars checks that tabID is a tab of spreadsheet id and runs fn
// under the side-car lock of the spreadsheet.
func (s *Service) withSidecars(ctx context.Context, id string, tabID int64, fn func(root registry.Descriptor) error) error {
	if err := requireID(id); err != nil {
		return err
	}

	root, err := s.reg.Resolve(ctx, id)
	if err != nil {
		return err
	}

	tab, err := s.reg.TabByID(ctx, root.ID, tabID)
	if err != nil {
		return err
	}

	err = s.withLock(ctx, sidecarLockKey(root.File), false, func() error {
		return fn(root)
	})
	if err != nil {
		return err
	}

	s.publish(EventFormat, tab, grid.Update{})

	return nil
}

// sidecarRange normalizes a range for use in a side-car key. The tab prefix
// is dropped since records are keyed by tab id.
func sidecarRange(expr string) (string, error) {
	if strings.TrimSpace(expr) == "" {
		return "", invalidf("range is required")
	}

	r := a1.Parse(expr)
	r.Sheet = ""

	if r == a1.All {
		return "all", nil
	}

	return r.String(), nil
}

func nextRecordID(existing map[string]json.RawMessage, key func(string) string) string {
	n := 1
	for {
		id := strconv.Itoa(n)
		if _, taken := existing[key(id)]; !taken {
			return id
		}

		n++
	}
}
