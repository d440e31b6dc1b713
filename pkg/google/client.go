package google

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/harrisonrobin/sheetsync/pkg/auth"
	"github.com/harrisonrobin/sheetsync/pkg/index"
)

// NewClient creates a Sheets client authorized with the cached OAuth token.
func NewClient(ctx context.Context, tab string, columns map[string]string, idx *index.RowIndex, logger *log.Logger) (*SheetsClient, error) {
	srv, err := auth.GetSheetsService(ctx)
	if err != nil {
		return nil, err
	}
	return NewSheetsClient(srv, tab, columns, idx, logger), nil
}

// VerifySheet checks that the spreadsheet exists and has the tab.
func (c *SheetsClient) VerifySheet(ctx context.Context, sheetID string) (string, error) {
	ss, err := c.srv.Spreadsheets.Get(sheetID).Fields("properties.title", "sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to open spreadsheet %s: %w", sheetID, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == c.tab {
			return ss.Properties.Title, nil
		}
	}
	return "", fmt.Errorf("spreadsheet %q has no tab %q", ss.Properties.Title, c.tab)
}

// quoteTab renders a tab name for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// columnLetters converts a 0-based column index to its A1 letters.
func columnLetters(col int) string {
	var b []byte
	for col >= 0 {
		b = append([]byte{byte('A' + col%26)}, b...)
		col = col/26 - 1
	}
	return string(b)
}

// cellRef addresses one cell; row is 1-based.
func cellRef(tab string, col, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteTab(tab), columnLetters(col), row)
}

// columnRange addresses a whole column.
func columnRange(tab string, col int) string {
	letters := columnLetters(col)
	return fmt.Sprintf("%s!%s:%s", quoteTab(tab), letters, letters)
}

// rowRange addresses the first width cells of a row.
func rowRange(tab string, width, row int) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%s!A%d:%s%d", quoteTab(tab), row, columnLetters(width-1), row)
}

// rowFromRange extracts the first row number of an A1 range such as
// 'Tasks'!A12:N12.
func rowFromRange(a1 string) (int, error) {
	ref := a1
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		ref = ref[i+1:]
	}
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}
	digits := strings.TrimLeft(ref, "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz$")
	digits = strings.TrimPrefix(digits, "$")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("no row number in range %q", a1)
	}
	return n, nil
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func toGrid(values [][]interface{}) [][]string {
	grid := make([][]string, len(values))
	for i, row := range values {
		grid[i] = make([]string, len(row))
		for j, v := range row {
			grid[i][j] = cellString(v)
		}
	}
	return grid
}
