// Package export writes message metadata to flat files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// ErrNothingToExport is returned when the collection is empty.
var ErrNothingToExport = errors.New("no metadata to export")

// Columns is the CSV header row.
var Columns = []string{"id", "from", "date", "subject", "labels"}

// WriteCSV writes coll to path, replacing any existing file. Absent header
// fields become empty cells; labels are comma-joined in one cell.
func WriteCSV(path string, coll *mail.Collection) error {
	if coll.Len() == 0 {
		return ErrNothingToExport
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := Encode(f, coll); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Encode writes coll as CSV to w in collection order.
func Encode(w io.Writer, coll *mail.Collection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, md := range coll.Items() {
		err := cw.Write([]string{
			md.ID,
			mail.Value(md.Fields.From),
			mail.Value(md.Fields.Date),
			mail.Value(md.Fields.Subject),
			strings.Join(md.Labels, ","),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
