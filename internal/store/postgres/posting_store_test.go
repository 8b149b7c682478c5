package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jobgrid/scrape-service/internal/jobs"
	"github.com/jobgrid/scrape-service/internal/store"
)

func TestSelectBySourceURLs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	urls := []string{"https://a/1", "https://a/2"}
	mock.ExpectQuery("SELECT source_url, status FROM job_postings").
		WithArgs(urls).
		WillReturnRows(pgxmock.NewRows([]string{"source_url", "status"}).
			AddRow("https://a/1", jobs.StatusActive))

	st := NewPostingStore(mock)
	existing, err := st.SelectBySourceURLs(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.Equal(t, "https://a/1", existing[0].SourceURL)
	require.Equal(t, jobs.StatusActive, existing[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectBySourceURLsEmptyInputSkipsQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostingStore(mock)
	existing, err := st.SelectBySourceURLs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectBySourceURLsDegradesWithoutStatusColumn(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	urls := []string{"https://a/1"}
	mock.ExpectQuery("SELECT source_url, status FROM job_postings").
		WithArgs(urls).
		WillReturnError(&pgconn.PgError{Code: "42703", Message: `column "status" does not exist`})
	mock.ExpectQuery("SELECT source_url FROM job_postings").
		WithArgs(urls).
		WillReturnRows(pgxmock.NewRows([]string{"source_url"}).AddRow("https://a/1"))

	st := NewPostingStore(mock)
	existing, err := st.SelectBySourceURLs(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.Empty(t, existing[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSkipModeUsesDoNothing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := []jobs.PostingRow{{
		Title:		"Engineer",
		Company:	"ACME",
		Location:	"Berlin",
		Status:		jobs.StatusActive,
		SourceURL:	"https://a/1",
	}}

	mock.ExpectQuery(`INSERT INTO job_postings .+ ON CONFLICT \(source_url\) DO NOTHING RETURNING source_url`).
		WithArgs("Engineer", "ACME", "Berlin", "", "https://a/1", nil, nil, "active").
		WillReturnRows(pgxmock.NewRows([]string{"source_url"}).AddRow("https://a/1"))

	st := NewPostingStore(mock)
	written, err := st.Upsert(context.Background(), rows, store.UpsertOptions{
		IgnoreDuplicates:	true,
		IncludeStatus:		true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a/1"}, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUpdateModeSetsColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := []jobs.PostingRow{{
		Title:		"Engineer",
		Company:	"ACME",
		Location:	"Berlin",
		Status:		jobs.StatusActive,
		SourceURL:	"https://a/1",
	}}

	mock.ExpectQuery(`ON CONFLICT \(source_url\) DO UPDATE SET .*status = EXCLUDED\.status.*updated_at = NOW\(\)`).
		WithArgs("Engineer", "ACME", "Berlin", "", "https://a/1", nil, nil, "active").
		WillReturnRows(pgxmock.NewRows([]string{"source_url"}).AddRow("https://a/1"))

	st := NewPostingStore(mock)
	written, err := st.Upsert(context.Background(), rows, store.UpsertOptions{IncludeStatus: true})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a/1"}, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWithoutStatusColumn(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := []jobs.PostingRow{{
		Title:		"Engineer",
		Company:	"ACME",
		Location:	"Berlin",
		SourceURL:	"https://a/1",
	}}

	// Seven columns per row when status is stripped.
	mock.ExpectQuery(`INSERT INTO job_postings \(title, company, location, description, source_url, pdf_url, posted_at\)`).
		WithArgs("Engineer", "ACME", "Berlin", "", "https://a/1", nil, nil).
		WillReturnRows(pgxmock.NewRows([]string{"source_url"}).AddRow("https://a/1"))

	st := NewPostingStore(mock)
	written, err := st.Upsert(context.Background(), rows, store.UpsertOptions{IgnoreDuplicates: true})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a/1"}, written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmptyBatchSkipsQuery(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	st := NewPostingStore(mock)
	written, err := st.Upsert(context.Background(), nil, store.UpsertOptions{})
	require.NoError(t, err)
	require.Empty(t, written)
	require.NoError(t, mock.ExpectationsWereMet())
}
