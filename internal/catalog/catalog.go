// Package catalog provides the immutable SKU to expected-weight lookup.
//
// The catalog is loaded once at startup from a CSV product list and never
// mutated afterwards. Lookups for absent SKUs report "unknown" rather than
// an error, and a missing catalog file yields an empty catalog: downstream
// rules treat an unresolvable expected weight as "no mismatch possible".
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Catalog maps SKU to expected weight in grams.
type Catalog struct {
	weights map[string]float64
	skipped int
}

// Empty returns a catalog with no entries.
func Empty() *Catalog {
	return &Catalog{weights: map[string]float64{}}
}

// Load reads a product CSV and builds the catalog.
//
// The header row identifies the SKU column (exact match, case-insensitive)
// and the weight column (substring match on "weight", case-insensitive).
// Rows with a blank SKU or non-numeric weight are skipped, not fatal.
// A missing file is not an error; it produces an empty catalog.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	return parse(f)
}

func parse(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return Empty(), nil
		}
		return nil, fmt.Errorf("read catalog header: %w", err)
	}

	skuCol, weightCol := -1, -1
	for i, name := range header {
		n := strings.ToLower(strings.TrimSpace(name))
		if n == "sku" && skuCol < 0 {
			skuCol = i
		}
		if strings.Contains(n, "weight") && weightCol < 0 {
			weightCol = i
		}
	}
	if skuCol < 0 || weightCol < 0 {
		// No usable columns. Treat like malformed input: empty, not fatal.
		return Empty(), nil
	}

	cat := Empty()
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			cat.skipped++
			continue
		}
		if skuCol >= len(row) || weightCol >= len(row) {
			cat.skipped++
			continue
		}
		sku := strings.TrimSpace(row[skuCol])
		w, perr := strconv.ParseFloat(strings.TrimSpace(row[weightCol]), 64)
		if sku == "" || perr != nil {
			cat.skipped++
			continue
		}
		cat.weights[sku] = w
	}
	return cat, nil
}

// ExpectedWeight looks up the expected weight for a SKU.
// The second return value is false when the SKU is unknown.
func (c *Catalog) ExpectedWeight(sku string) (float64, bool) {
	w, ok := c.weights[sku]
	return w, ok
}

// Len returns the number of SKUs in the catalog.
func (c *Catalog) Len() int {
	return len(c.weights)
}

// Skipped returns the number of rows dropped during load.
func (c *Catalog) Skipped() int {
	return c.skipped
}
