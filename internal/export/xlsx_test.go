package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/zmcp/odata-provider/internal/models"
)

type fakeLister struct {
	set     *models.EntitySet
	records []models.Record
	noCount bool
	pages   []int
	failAt  int
}

func (f *fakeLister) Resource(resource string) (*models.EntitySet, error) {
	if models.NormalizeResource(resource) != "products" {
		return nil, models.ErrUnknownResource
	}
	return f.set, nil
}

func (f *fakeLister) GetList(_ context.Context, _ string, params models.ListParams) (*models.ListResult, error) {
	f.pages = append(f.pages, params.Pagination.Page)
	if params.Pagination.Page == f.failAt {
		return nil, errors.New("boom")
	}
	skip := params.Pagination.Skip()
	end := skip + params.Pagination.PerPage
	if skip > len(f.records) {
		skip = len(f.records)
	}
	if end > len(f.records) {
		end = len(f.records)
	}
	page := f.records[skip:end]
	total := int64(len(f.records))
	if f.noCount {
		total = int64(len(page))
	}
	return &models.ListResult{Records: page, Total: total}, nil
}

func newLister(n int) *fakeLister {
	key := &models.EntityProperty{Name: "ProductID", Type: "Edm.Int32"}
	set := &models.EntitySet{
		Name:       "Products",
		URLSegment: "Products",
		Type: &models.EntityType{
			Name:       "Product",
			Key:        key,
			Properties: []*models.EntityProperty{key, {Name: "ProductName", Type: "Edm.String"}, {Name: "Tags", Type: "Collection(Edm.String)"}},
		},
	}
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{"id": float64(i + 1), "ProductID": float64(i + 1), "ProductName": "P"}
	}
	return &fakeLister{set: set, records: records}
}

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	require.Equal(t, []string{"Products"}, sheets)
	rows, err := f.GetRows(sheets[0])
	require.NoError(t, err)
	return rows
}

func TestWritePagesUntilTotal(t *testing.T) {
	lister := newLister(5)
	lister.records[0]["Tags"] = []interface{}{"a", "b"}

	var buf bytes.Buffer
	var progress []int
	summary, err := Write(context.Background(), lister, "products", &buf, Options{
		PerPage:  2,
		Progress: func(rows int, _ int64) { progress = append(progress, rows) },
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, lister.pages)
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Equal(t, 5, summary.Rows)
	assert.Equal(t, int64(5), summary.Total)
	assert.Equal(t, []string{"ProductID", "ProductName", "Tags"}, summary.Columns)

	rows := readRows(t, buf.Bytes())
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"ProductID", "ProductName", "Tags"}, rows[0])
	assert.Equal(t, []string{"1", "P", `["a","b"]`}, rows[1])
	assert.Equal(t, "5", rows[5][0])
}

func TestWriteWithoutCount(t *testing.T) {
	lister := newLister(4)
	lister.noCount = true

	var buf bytes.Buffer
	summary, err := Write(context.Background(), lister, "Products", &buf, Options{PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, lister.pages)
	assert.Equal(t, 4, summary.Rows)
}

func TestWriteMaxRows(t *testing.T) {
	lister := newLister(10)

	var buf bytes.Buffer
	summary, err := Write(context.Background(), lister, "Products", &buf, Options{PerPage: 4, MaxRows: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Rows)
	assert.Equal(t, []int{1, 2}, lister.pages)
	assert.Len(t, readRows(t, buf.Bytes()), 6)
}

func TestWriteErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(context.Background(), newLister(1), "Nope", &buf, Options{})
	assert.ErrorIs(t, err, models.ErrUnknownResource)

	lister := newLister(5)
	lister.failAt = 2
	_, err = Write(context.Background(), lister, "Products", &buf, Options{PerPage: 2})
	assert.ErrorContains(t, err, "page 2")
}

func TestToFileRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.xlsx")

	summary, err := ToFile(context.Background(), newLister(3), "Products", path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rows)
	assert.FileExists(t, path)

	failing := newLister(3)
	failing.failAt = 1
	bad := filepath.Join(dir, "bad.xlsx")
	_, err = ToFile(context.Background(), failing, "Products", bad, Options{})
	require.Error(t, err)
	assert.NoFileExists(t, bad)
}

func TestLastPage(t *testing.T) {
	tests := []struct {
		name    string
		fetched int
		total   int64
		pageLen int
		perPage int
		want    bool
	}{
		{"short page", 3, 3, 3, 10, true},
		{"counted and reached", 20, 20, 10, 10, true},
		{"counted not reached", 10, 20, 10, 10, false},
		{"no count full page", 10, 10, 10, 10, false},
		{"empty page", 10, 10, 0, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lastPage(tt.fetched, tt.total, tt.pageLen, tt.perPage))
		})
	}
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "A_B_C", sheetName("A/B?C"))
	assert.Equal(t, "Sheet1", sheetName(""))
	assert.Len(t, sheetName("ThisIsAVeryLongEntitySetNameExceedingLimits"), maxSheetName)
}
