package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// Exporter menulis ekspor CSV audit timeline.
type Exporter struct{}

// NewExporter membuat exporter baru.
func NewExporter() *Exporter {
	return &Exporter{}
}

// WriteCSV menserialisasi baris timeline ke CSV.
func (e *Exporter) WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"At", "Actor", "Action", "Entity", "Entity ID", "Request ID", "Meta"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		actor := "system"
		if row.ActorID > 0 {
			actor = strconv.FormatInt(row.ActorID, 10)
		}
		if err := writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			actor,
			row.Action,
			row.Entity,
			row.EntityID,
			row.RequestID,
			string(row.Meta),
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
