package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCompanyFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name		string
		company		string
		sourceURL	string
		want		string
	}{
		{"kept as-is", "ACME GmbH", "https://acme.example/jobs/1", "ACME GmbH"},
		{"trimmed", "  ACME  ", "https://acme.example/jobs/1", "ACME"},
		{"empty uses platform name", "", "https://www.indeed.com/viewjob?jk=1", "Indeed"},
		{"placeholder uses platform name", "N/A", "https://linkedin.com/jobs/view/2", "LinkedIn"},
		{"unknown host uses bare host", "", "https://jobs.acme.example/3", "jobs.acme.example"},
		{"non-http source", "", "urn:manual:batch-7", "Manual source"},
		{"unknown placeholder", "unknown", "https://www.stepstone.de/job/4", "StepStone"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(PostingRow{Company: tc.company, SourceURL: tc.sourceURL})
			require.Equal(t, tc.want, got.Company)
		})
	}
}

func TestNormalizeLocationAndStatus(t *testing.T) {
	t.Parallel()

	got := Normalize(PostingRow{SourceURL: "https://a.example/1", Location: "   "})
	require.Equal(t, "Unknown", got.Location)
	require.Equal(t, StatusActive, got.Status)

	got = Normalize(PostingRow{SourceURL: "https://a.example/1", Location: " Berlin ", Status: StatusInactive})
	require.Equal(t, "Berlin", got.Location)
	require.Equal(t, StatusInactive, got.Status)
}

func TestNormalizeBatchDropsEmptyKeys(t *testing.T) {
	t.Parallel()

	out := NormalizeBatch([]PostingRow{
		{Title: "no key", SourceURL: "   "},
		{Title: "ok", SourceURL: "https://a.example/1"},
	})
	require.Len(t, out, 1)
	require.Equal(t, "ok", out[0].Title)
}

func TestNormalizeBatchCollapsesLastWriteWins(t *testing.T) {
	t.Parallel()

	out := NormalizeBatch([]PostingRow{
		{Title: "first", SourceURL: "https://a.example/1"},
		{Title: "other", SourceURL: "https://a.example/2"},
		{Title: "second", SourceURL: "https://a.example/1"},
	})
	require.Len(t, out, 2)
	// The collapsed row keeps its original position with the last payload.
	require.Equal(t, "second", out[0].Title)
	require.Equal(t, "https://a.example/1", out[0].SourceURL)
	require.Equal(t, "other", out[1].Title)
}
