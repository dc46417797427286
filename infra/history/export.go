package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// WriteJSON writes the records to w as a JSON array.
func WriteJSON(w io.Writer, recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	return json.NewEncoder(w).Encode(recs)
}

// WriteCSV writes the records to w in CSV format. Attributes are omitted.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "entity_id", "unique_id", "device_mac", "state"}); err != nil {
		return err
	}
	for _, r := range recs {
		rec := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.EntityID,
			r.UniqueID,
			r.DeviceMAC,
			r.State,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches to WriteJSON or WriteCSV by format name.
func Write(w io.Writer, recs []Record, format string) error {
	switch format {
	case "json":
		return WriteJSON(w, recs)
	case "csv":
		return WriteCSV(w, recs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
