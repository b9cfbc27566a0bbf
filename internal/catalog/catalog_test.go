package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products_list.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_Basic(t *testing.T) {
	path := writeCatalog(t, "SKU,product_name,weight_g\nPRD_F_01,Apples,120.5\nPRD_F_02,Bread,450\n")

	cat, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cat.Len())
	w, ok := cat.ExpectedWeight("PRD_F_01")
	require.True(t, ok)
	assert.Equal(t, 120.5, w)
}

func TestLoad_HeaderMatching(t *testing.T) {
	// SKU exact match is case-insensitive; weight column matches by substring.
	path := writeCatalog(t, "sku,Unit Weight (g)\nPRD_A_01,75\n")

	cat, err := Load(path)
	require.NoError(t, err)

	w, ok := cat.ExpectedWeight("PRD_A_01")
	require.True(t, ok)
	assert.Equal(t, 75.0, w)
}

func TestLoad_SkipsBadRows(t *testing.T) {
	path := writeCatalog(t, "SKU,weight_g\nPRD_F_01,100\n,200\nPRD_F_03,not-a-number\nPRD_F_04,85\n")

	cat, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cat.Len())
	assert.Equal(t, 2, cat.Skipped())
	_, ok := cat.ExpectedWeight("PRD_F_03")
	assert.False(t, ok)
}

func TestLoad_MissingFileYieldsEmptyCatalog(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

func TestLoad_NoUsableColumns(t *testing.T) {
	path := writeCatalog(t, "name,price\nApples,1.99\n")

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

func TestLoad_Idempotent(t *testing.T) {
	path := writeCatalog(t, "SKU,weight_g\nPRD_F_01,100\nPRD_F_02,240\n")

	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, first.Len(), second.Len())
	for _, sku := range []string{"PRD_F_01", "PRD_F_02"} {
		w1, ok1 := first.ExpectedWeight(sku)
		w2, ok2 := second.ExpectedWeight(sku)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, w1, w2)
	}
}

func TestExpectedWeight_UnknownSKU(t *testing.T) {
	cat := Empty()
	_, ok := cat.ExpectedWeight("PRD_Z_99")
	assert.False(t, ok)
}
