package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Renderer is implemented by results that have a tabular form.
type Renderer interface {
	Headers() []string
	Rows() [][]string
}

// Grid is an ad hoc Renderer.
type Grid struct {
	Header []string
	Data   [][]string
}

func (r *Grid) Headers() []string { return r.Header }
func (r *Grid) Rows() [][]string  { return r.Data }

// Add appends one row.
func (r *Grid) Add(cells ...string) { r.Data = append(r.Data, cells) }

// Render writes r as a borderless, left aligned table.
func Render(w io.Writer, r Renderer) error {
	t := newTable(w)
	t.SetHeader(r.Headers())
	t.SetAutoFormatHeaders(true)
	t.SetColumnSeparator("")
	t.AppendBulk(r.Rows())
	t.Render()
	return nil
}

// KeyValues writes "key: value" pairs aligned in two columns.
func KeyValues(w io.Writer, pairs [][2]string) error {
	t := newTable(w)
	t.SetColumnSeparator(":")
	for _, kv := range pairs {
		t.Append([]string{kv[0], kv[1]})
	}
	t.Render()
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}
