package extract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPartitionServer serves the stored file at /files/report.pdf and the partition API at
// /general/v0/general.
func newPartitionServer(t *testing.T, partition http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	})
	mux.HandleFunc("/general/v0/general", partition)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPartitionClient_Extract(t *testing.T) {
	srv := newPartitionServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get(apiKeyHeader))

		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "report.pdf", header.Filename)
		assert.Equal(t, "%PDF-1.4 fake", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type": "Title", "text": "Quarterly Report"},
			{"type": "NarrativeText", "text": "Revenue grew."},
			{"type": "PageBreak", "text": ""},
			{"type": "NarrativeText", "text": " Costs fell. "}
		]`))
	})

	c := NewPartitionClient(srv.URL+"/general/v0/general", "secret", srv.Client())
	text, err := c.Extract(context.Background(), Source{URL: srv.URL + "/files/report.pdf", FileType: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report\n\nRevenue grew.\n\nCosts fell.", text)
}

func TestPartitionClient_NonSuccessStatus(t *testing.T) {
	srv := newPartitionServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported file type", http.StatusUnprocessableEntity)
	})

	c := NewPartitionClient(srv.URL+"/general/v0/general", "", srv.Client())
	_, err := c.Extract(context.Background(), Source{URL: srv.URL + "/files/report.pdf", FileType: "pdf"})
	require.ErrorIs(t, err, ErrProviderStatus)
	assert.Contains(t, err.Error(), "422")
}

func TestPartitionClient_MissingSource(t *testing.T) {
	srv := newPartitionServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("partition should not be called when download fails")
	})

	c := NewPartitionClient(srv.URL+"/general/v0/general", "", srv.Client())
	_, err := c.Extract(context.Background(), Source{URL: srv.URL + "/files/missing.pdf", FileType: "pdf"})
	assert.ErrorIs(t, err, ErrProviderStatus)
}

func TestPartitionClient_Timeout(t *testing.T) {
	srv := newPartitionServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewPartitionClient(srv.URL+"/general/v0/general", "", srv.Client())
	_, err := c.Extract(ctx, Source{URL: srv.URL + "/files/report.pdf", FileType: "pdf"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
