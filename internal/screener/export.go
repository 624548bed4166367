package screener

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// ExportJSON writes rows as indented JSON.
func ExportJSON(w io.Writer, rows []ListedStock) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("failed to encode stock list: %w", err)
	}
	return nil
}

// ExportCSV writes rows as CSV with a header. Score columns are emitted only
// when at least one row carries a score; unscored rows leave them empty.
func ExportCSV(w io.Writer, rows []ListedStock) error {
	scored := false
	for _, row := range rows {
		if row.Score != nil {
			scored = true
			break
		}
	}

	cw := csv.NewWriter(w)
	header := []string{"ticker", "name", "industry", "market"}
	if scored {
		header = append(header, "total", "valuation", "growth", "quality", "chips", "momentum")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range rows {
		rec := []string{row.Ticker, row.Name, row.Industry, row.Market}
		if scored {
			if row.Score != nil {
				rec = append(rec,
					formatScore(row.Score.Total),
					formatScore(row.Score.Valuation),
					formatScore(row.Score.Growth),
					formatScore(row.Score.Quality),
					formatScore(row.Score.Chips),
					formatScore(row.Score.Momentum),
				)
			} else {
				rec = append(rec, "", "", "", "", "", "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
