package finmind

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/twscreener/internal/cache"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-token", nil, zerolog.Nop())
	c.SetBaseURL(srv.URL)
	return c
}

func TestGetPrices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, DatasetPrice, q.Get("dataset"))
		assert.Equal(t, "2330", q.Get("data_id"))
		assert.Equal(t, "2024-01-01", q.Get("start_date"))
		assert.Equal(t, "test-token", q.Get("token"))

		w.Write([]byte(`{
			"status": 200,
			"msg": "success",
			"data": [
				{"date":"2024-01-02","stock_id":"2330","open":590,"max":595,"min":588,"close":593,"Trading_Volume":25214903,"Trading_money":14902111234}
			]
		}`))
	})

	rows, err := c.GetPrices("2330", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 593.0, rows[0].Close)
	assert.Equal(t, int64(25214903), rows[0].Volume)
}

func TestQuotaExceeded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	_, err := c.GetPrices("2330", "2024-01-01", "2024-01-31")
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, DatasetPrice, quotaErr.Dataset)
}

func TestNotFoundReturnsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rows, err := c.GetPrices("9999", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProviderErrorSurfacesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": 400, "msg": "bad dataset", "data": []}`))
	})

	_, err := c.GetPrices("2330", "2024-01-01", "2024-01-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad dataset")
}

func TestIsQuotaExceededOnWrappedError(t *testing.T) {
	err := fmt.Errorf("fetch failed: %w", &QuotaExceededError{Dataset: DatasetPER})
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsQuotaExceeded(errors.New("other")))
	assert.False(t, IsQuotaExceeded(nil))
}

func TestCachedResponseSkipsHTTP(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":200,"msg":"ok","data":[{"date":"2024-01-02","stock_id":"2330","close":593}]}`))
	}))
	t.Cleanup(srv.Close)

	store, err := cache.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	c := NewClient("", store, zerolog.Nop())
	c.SetBaseURL(srv.URL)

	for i := 0; i < 3; i++ {
		rows, err := c.GetPrices("2330", "2024-01-01", "2024-01-31")
		require.NoError(t, err)
		require.Len(t, rows, 1)
	}
	assert.Equal(t, 1, calls)
}

func TestInstitutionalFlowRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DatasetInstitutionalFlow, r.URL.Query().Get("dataset"))
		w.Write([]byte(`{
			"status": 200,
			"msg": "success",
			"data": [
				{"date":"2024-01-02","stock_id":"2330","name":"Foreign_Investor","buy":30000000,"sell":28500000},
				{"date":"2024-01-02","stock_id":"2330","name":"Investment_Trust","buy":100000,"sell":120000}
			]
		}`))
	})

	rows, err := c.GetInstitutionalFlow("2330", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(30000000), rows[0].Buy)
	assert.Equal(t, "Investment_Trust", rows[1].Name)
}
