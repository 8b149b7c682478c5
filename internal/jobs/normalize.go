package jobs

import (
	"net/url"
	"strings"
)

// fallbackCompany is used when the source identifier is not an HTTP URL.
const fallbackCompany = "Manual source"

// fallbackLocation replaces an empty location.
const fallbackLocation = "Unknown"

// placeholderCompanies are tokens treated the same as an empty company.
var placeholderCompanies = map[string]struct{}{
	"unknown":		{},
	"n/a":			{},
	"na":			{},
	"not available":	{},
}

// platformNames maps well-known posting hosts to their display name.
var platformNames = map[string]string{
	"indeed.com":		"Indeed",
	"linkedin.com":		"LinkedIn",
	"stepstone.de":		"StepStone",
	"monster.com":		"Monster",
	"xing.com":		"XING",
	"glassdoor.com":	"Glassdoor",
}

// Normalize applies the write-side normalization rules to a single row:
// company falls back to a host-derived name when empty or a placeholder,
// location falls back to "Unknown", description is trimmed and status
// defaults to active unless explicitly inactive.
func Normalize(row PostingRow) PostingRow {
	row.Title = strings.TrimSpace(row.Title)
	row.Description = strings.TrimSpace(row.Description)
	row.SourceURL = strings.TrimSpace(row.SourceURL)
	row.PDFURL = strings.TrimSpace(row.PDFURL)

	company := strings.TrimSpace(row.Company)
	if _, placeholder := placeholderCompanies[strings.ToLower(company)]; company == "" || placeholder {
		company = companyFromSource(row.SourceURL)
	}
	row.Company = company

	if strings.TrimSpace(row.Location) == "" {
		row.Location = fallbackLocation
	} else {
		row.Location = strings.TrimSpace(row.Location)
	}

	if row.Status != StatusInactive {
		row.Status = StatusActive
	}
	return row
}

// NormalizeBatch normalizes every row, drops rows whose source URL is empty
// after trimming, and collapses duplicate source URLs last-write-wins. The
// returned batch is what Attempted counts are computed from.
func NormalizeBatch(rows []PostingRow) []PostingRow {
	out := make([]PostingRow, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		row = Normalize(row)
		if row.SourceURL == "" {
			continue
		}
		if at, seen := index[row.SourceURL]; seen {
			out[at] = row
			continue
		}
		index[row.SourceURL] = len(out)
		out = append(out, row)
	}
	return out
}

// companyFromSource derives a company fallback from the source URL host:
// a known platform name, the bare hostname, or "Manual source" for
// non-HTTP identifiers.
func companyFromSource(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fallbackCompany
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if name, ok := platformNames[host]; ok {
		return name
	}
	return host
}
