package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRendersRowsInHeaderOrder(t *testing.T) {
	exporter := NewCSVExporter()
	data := Dataset{
		Headers: []string{"date", "start", "end", "therapist"},
		Rows: []map[string]string{
			{"date": "2025-01-06", "start": "10:00", "end": "11:00", "therapist": "ther-1"},
			{"date": "2025-01-08", "start": "10:00", "end": "11:00", "therapist": "ther-1"},
		},
	}

	out, err := exporter.Render(data)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"date", "start", "end", "therapist"}, records[0])
	require.Equal(t, "2025-01-06", records[1][0])
	require.Equal(t, "ther-1", records[2][3])
}

func TestCSVExporterFillsMissingCells(t *testing.T) {
	exporter := NewCSVExporter()
	data := Dataset{
		Headers: []string{"date", "room"},
		Rows:    []map[string]string{{"date": "2025-01-06"}},
	}

	out, err := exporter.Render(data)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"2025-01-06", ""}, records[1])
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterProducesDocument(t *testing.T) {
	exporter := NewPDFExporter()
	data := Dataset{
		Headers: []string{"type", "date", "slots"},
		Rows: []map[string]string{
			{"type": "therapist", "date": "2025-02-03", "slots": "2"},
		},
	}

	out, err := exporter.Render(data, "conflict report")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFExporterRequiresHeaders(t *testing.T) {
	exporter := NewPDFExporter()
	_, err := exporter.Render(Dataset{}, "empty")
	require.Error(t, err)
}
