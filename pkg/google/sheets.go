// Package google is the spreadsheet side of the sync: it reads task rows from
// one tab of a Google Sheet and writes cells back through the Sheets API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/sheetsync/pkg/index"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"google.golang.org/api/sheets/v4"
)

var (
	ErrRowNotFound       = errors.New("row not found")
	ErrDuplicateCrossRef = errors.New("more than one row carries the task ID")
	errNoRowIDColumn     = errors.New("sheet has no row ID column")
)

// Layouts accepted in the modified column.
var modifiedLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "1/2/2006 15:04:05"}

// bookkeeping fields are read into Row fields rather than Cells.
var bookkeeping = map[string]bool{
	model.FieldRowID:    true,
	model.FieldCrossRef: true,
	model.FieldModified: true,
}

// layout locates logical fields in the header row.
type layout struct {
	cols  map[string]int
	width int
}

func (l layout) has(field string) bool {
	_, ok := l.cols[field]
	return ok
}

// located is a row as last read or written.
type located struct {
	number int
	values []string
}

type sheetState struct {
	layout layout
	rows   map[string]located
}

// SheetsClient reads and writes task rows on one tab.
type SheetsClient struct {
	srv     *sheets.Service
	tab     string
	columns map[string]string
	index   *index.RowIndex
	logger  *log.Logger

	// Now stamps the modified column and dates observed edits.
	Now func() time.Time

	mu     sync.Mutex
	sheets map[string]*sheetState
}

// NewSheetsClient wraps an authorized service. columns maps logical field
// names to header text; idx remembers row content between runs.
func NewSheetsClient(srv *sheets.Service, tab string, columns map[string]string, idx *index.RowIndex, logger *log.Logger) *SheetsClient {
	if logger == nil {
		logger = log.New(os.Stderr, "[sheets] ", log.LstdFlags)
	}
	if idx == nil {
		idx = &index.RowIndex{Entries: make(map[string]index.Entry)}
	}
	return &SheetsClient{
		srv:     srv,
		tab:     tab,
		columns: columns,
		index:   idx,
		logger:  logger,
		Now:     time.Now,
		sheets:  make(map[string]*sheetState),
	}
}

// Flush persists the row index.
func (c *SheetsClient) Flush() error {
	if c.index.Path == "" {
		return nil
	}
	return c.index.Flush()
}

func (c *SheetsClient) readGrid(ctx context.Context, sheetID string) ([][]string, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(sheetID, quoteTab(c.tab)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read tab %q: %w", c.tab, err)
	}
	return toGrid(resp.Values), nil
}

func (c *SheetsClient) parseLayout(header []string) (layout, error) {
	l := layout{cols: make(map[string]int), width: len(header)}
	for field, title := range c.columns {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), title) {
				l.cols[field] = i
				break
			}
		}
	}
	if !l.has(model.FieldRowID) {
		return l, fmt.Errorf("%w: expected a %q header", errNoRowIDColumn, c.columns[model.FieldRowID])
	}
	return l, nil
}

// ListRows reads every non-blank row. Rows without an ID, or with an ID an
// earlier row already uses, get a fresh one written back before returning.
func (c *SheetsClient) ListRows(ctx context.Context, sheetID string) ([]model.Row, error) {
	grid, err := c.readGrid(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("tab %q has no header row", c.tab)
	}
	l, err := c.parseLayout(grid[0])
	if err != nil {
		return nil, err
	}

	now := c.Now().UTC()
	state := &sheetState{layout: l, rows: make(map[string]located)}
	seen := make(map[string]bool)
	var (
		rows     []model.Row
		assigned []*sheets.ValueRange
	)
	for i := 1; i < len(grid); i++ {
		values := grid[i]
		if blank(values) {
			continue
		}
		number := i + 1
		id := cell(values, l, model.FieldRowID)
		if id == "" || seen[id] {
			if id != "" {
				c.logger.Printf("WARNING: row %d repeats row ID %s, assigning a new one", number, id)
			}
			id = uuid.NewString()
			values = setCell(values, l, model.FieldRowID, id)
			assigned = append(assigned, &sheets.ValueRange{
				Range:  cellRef(c.tab, l.cols[model.FieldRowID], number),
				Values: [][]interface{}{{id}},
			})
		}
		seen[id] = true
		state.rows[id] = located{number: number, values: values}
		rows = append(rows, c.toRow(id, number, values, l, now))
	}

	if len(assigned) > 0 {
		if err := c.batchWrite(ctx, sheetID, assigned); err != nil {
			return nil, fmt.Errorf("failed to assign row IDs: %w", err)
		}
		c.logger.Printf("Assigned IDs to %d new rows", len(assigned))
	}
	c.index.Retain(seen)

	c.mu.Lock()
	c.sheets[sheetID] = state
	c.mu.Unlock()
	return rows, nil
}

// FindByCrossRef returns the row carrying the task ID, or nil. It reads the
// cross-reference column and the matching row only; the cached tab and the
// row IDs are left as the last ListRows saw them.
func (c *SheetsClient) FindByCrossRef(ctx context.Context, sheetID, crossRef string) (*model.Row, error) {
	l, err := c.layoutFor(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	col, ok := l.cols[model.FieldCrossRef]
	if !ok {
		return nil, nil
	}
	rng := columnRange(c.tab, col)
	resp, err := c.srv.Spreadsheets.Values.Get(sheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", rng, err)
	}
	var numbers []int
	for i, values := range toGrid(resp.Values) {
		if i == 0 || len(values) == 0 {
			continue
		}
		if strings.TrimSpace(values[0]) == crossRef {
			numbers = append(numbers, i+1)
		}
	}
	switch len(numbers) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s (rows %d and %d)", ErrDuplicateCrossRef, crossRef, numbers[0], numbers[1])
	}

	number := numbers[0]
	values, err := c.readRow(ctx, sheetID, l, number)
	if err != nil {
		return nil, err
	}
	id := cell(values, l, model.FieldRowID)
	if id == "" {
		return nil, fmt.Errorf("row %d carries task %s but has no row ID yet", number, crossRef)
	}
	c.remember(sheetID, id, located{number: number, values: values})
	row := c.toRow(id, number, values, l, c.Now().UTC())
	return &row, nil
}

func (c *SheetsClient) readRow(ctx context.Context, sheetID string, l layout, number int) ([]string, error) {
	rng := rowRange(c.tab, l.width, number)
	resp, err := c.srv.Spreadsheets.Values.Get(sheetID, rng).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", rng, err)
	}
	grid := toGrid(resp.Values)
	if len(grid) == 0 {
		return nil, nil
	}
	return grid[0], nil
}

// UpdateRow writes the given fields into the row's cells. Fields the sheet
// has no column for are left out.
func (c *SheetsClient) UpdateRow(ctx context.Context, sheetID, rowID string, fields model.RowFields) (model.Row, error) {
	loc, l, err := c.locate(ctx, sheetID, rowID)
	if err != nil {
		return model.Row{}, err
	}

	now := c.Now().UTC()
	values := append([]string(nil), loc.values...)
	var data []*sheets.ValueRange
	for field, v := range fields {
		col, ok := l.cols[field]
		if !ok || field == model.FieldRowID {
			continue
		}
		values = setCell(values, l, field, v)
		data = append(data, &sheets.ValueRange{
			Range:  cellRef(c.tab, col, loc.number),
			Values: [][]interface{}{{v}},
		})
	}
	if len(data) == 0 {
		return c.toRow(rowID, loc.number, values, l, now), nil
	}
	if col, ok := l.cols[model.FieldModified]; ok {
		stamp := now.Format(time.RFC3339)
		values = setCell(values, l, model.FieldModified, stamp)
		data = append(data, &sheets.ValueRange{
			Range:  cellRef(c.tab, col, loc.number),
			Values: [][]interface{}{{stamp}},
		})
	}
	if err := c.batchWrite(ctx, sheetID, data); err != nil {
		return model.Row{}, fmt.Errorf("unable to update row %s: %w", rowID, err)
	}

	c.remember(sheetID, rowID, located{number: loc.number, values: values})
	return c.toRow(rowID, loc.number, values, l, now), nil
}

// CreateRow appends a row with a new row ID.
func (c *SheetsClient) CreateRow(ctx context.Context, sheetID string, fields model.RowFields) (model.Row, error) {
	l, err := c.layoutFor(ctx, sheetID)
	if err != nil {
		return model.Row{}, err
	}

	now := c.Now().UTC()
	id := uuid.NewString()
	values := make([]string, l.width)
	values = setCell(values, l, model.FieldRowID, id)
	for field, v := range fields {
		if field != model.FieldRowID && l.has(field) {
			values = setCell(values, l, field, v)
		}
	}
	if l.has(model.FieldModified) {
		values = setCell(values, l, model.FieldModified, now.Format(time.RFC3339))
	}

	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	resp, err := c.srv.Spreadsheets.Values.Append(sheetID, quoteTab(c.tab)+"!A1", &sheets.ValueRange{
		Values: [][]interface{}{out},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return model.Row{}, fmt.Errorf("unable to append row: %w", err)
	}
	if resp.Updates == nil {
		return model.Row{}, fmt.Errorf("append of row %s reported no updated range", id)
	}
	number, err := rowFromRange(resp.Updates.UpdatedRange)
	if err != nil {
		return model.Row{}, err
	}

	c.remember(sheetID, id, located{number: number, values: values})
	return c.toRow(id, number, values, l, now), nil
}

func (c *SheetsClient) batchWrite(ctx context.Context, sheetID string, data []*sheets.ValueRange) error {
	_, err := c.srv.Spreadsheets.Values.BatchUpdate(sheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	return err
}

func (c *SheetsClient) layoutFor(ctx context.Context, sheetID string) (layout, error) {
	c.mu.Lock()
	st, ok := c.sheets[sheetID]
	c.mu.Unlock()
	if ok {
		return st.layout, nil
	}
	if _, err := c.ListRows(ctx, sheetID); err != nil {
		return layout{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sheets[sheetID].layout, nil
}

// locate finds a row's current position. The cached position is confirmed
// against the row ID cell; rows moved by inserts or sorts force a re-read.
func (c *SheetsClient) locate(ctx context.Context, sheetID, rowID string) (located, layout, error) {
	c.mu.Lock()
	st, ok := c.sheets[sheetID]
	var (
		loc   located
		found bool
	)
	if ok {
		loc, found = st.rows[rowID]
	}
	c.mu.Unlock()

	if found {
		ref := cellRef(c.tab, st.layout.cols[model.FieldRowID], loc.number)
		resp, err := c.srv.Spreadsheets.Values.Get(sheetID, ref).Context(ctx).Do()
		if err != nil {
			return located{}, layout{}, fmt.Errorf("unable to read %s: %w", ref, err)
		}
		grid := toGrid(resp.Values)
		if len(grid) > 0 && len(grid[0]) > 0 && strings.TrimSpace(grid[0][0]) == rowID {
			return loc, st.layout, nil
		}
		c.logger.Printf("Row %s moved since last read, re-reading tab", rowID)
	}

	if _, err := c.ListRows(ctx, sheetID); err != nil {
		return located{}, layout{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st = c.sheets[sheetID]
	loc, found = st.rows[rowID]
	if !found {
		return located{}, layout{}, fmt.Errorf("%w: %s", ErrRowNotFound, rowID)
	}
	return loc, st.layout, nil
}

func (c *SheetsClient) remember(sheetID, rowID string, loc located) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sheets[sheetID]; ok {
		st.rows[rowID] = loc
	}
}

// toRow builds the model row and dates it: the later of the modified cell
// and the last time the row's content was seen to change.
func (c *SheetsClient) toRow(id string, number int, values []string, l layout, now time.Time) model.Row {
	row := model.Row{
		ID:       id,
		CrossRef: cell(values, l, model.FieldCrossRef),
		Cells:    make(model.RowFields),
	}
	for field := range l.cols {
		if !bookkeeping[field] {
			row.Cells[field] = cell(values, l, field)
		}
	}

	content := make([]string, 0, len(model.ContentFields))
	for _, field := range model.ContentFields {
		content = append(content, row.Cells[field])
	}
	row.ModifiedAt = c.index.Observe(id, number, index.Fingerprint(content), now)

	if stamp := cell(values, l, model.FieldModified); stamp != "" {
		if t, ok := parseModified(stamp); ok && t.After(row.ModifiedAt) {
			row.ModifiedAt = t
		}
	}
	return row
}

func parseModified(s string) (time.Time, bool) {
	for _, f := range modifiedLayouts {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func cell(values []string, l layout, field string) string {
	col, ok := l.cols[field]
	if !ok || col >= len(values) {
		return ""
	}
	return strings.TrimSpace(values[col])
}

func setCell(values []string, l layout, field, v string) []string {
	col, ok := l.cols[field]
	if !ok {
		return values
	}
	for len(values) <= col {
		values = append(values, "")
	}
	values[col] = v
	return values
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
