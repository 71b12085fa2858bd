package cmd

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/olekukonko/tablewriter"
)

const nullString = "null"

type output interface {
	Write(r arrow.Record) error
	Flush() error
}

func newOutput(format string, w io.Writer) (output, error) {
	switch format {
	case "table", "":
		return &tableOutput{w: w}, nil
	case "csv":
		return &csvOutput{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q, expected table or csv", format)
	}
}

// tableOutput buffers every row and renders a single table on Flush.
type tableOutput struct {
	w      io.Writer
	header []string
	rows   [][]string
}

func (t *tableOutput) Write(r arrow.Record) error {
	if t.header == nil {
		for _, f := range r.Schema().Fields() {
			t.header = append(t.header, f.Name)
		}
	}
	for i := 0; i < int(r.NumRows()); i++ {
		row := make([]string, r.NumCols())
		for j, col := range r.Columns() {
			if col.IsNull(i) {
				row[j] = nullString
				continue
			}
			row[j] = col.ValueStr(i)
		}
		t.rows = append(t.rows, row)
	}
	return nil
}

func (t *tableOutput) Flush() error {
	table := tablewriter.NewWriter(t.w)
	table.SetHeader(t.header)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(t.rows)
	table.Render()
	return nil
}

// csvOutput streams records as they arrive. The writer is created with the
// schema of the first record.
type csvOutput struct {
	w      io.Writer
	writer *csv.Writer
}

func (c *csvOutput) Write(r arrow.Record) error {
	if c.writer == nil {
		c.writer = csv.NewWriter(c.w, r.Schema(), csv.WithHeader(true), csv.WithNullWriter(nullString))
	}
	return c.writer.Write(r)
}

func (c *csvOutput) Flush() error {
	if c.writer == nil {
		return nil
	}
	return c.writer.Flush()
}
