package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/twscreener/internal/scoring"
	"github.com/aristath/twscreener/internal/screener"
)

// HealthResponse is the /api/health payload.
type HealthResponse struct {
	Status        string     `json:"status"` // "healthy" or "degraded"
	UptimeSeconds int64      `json:"uptime_seconds"`
	RAMPercent    float64    `json:"ram_percent"`
	CPUPercent    float64    `json:"cpu_percent"`
	Databases     []DBHealth `json:"databases"`
}

// DBHealth is one database's health entry.
type DBHealth struct {
	Name      string  `json:"name"`
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.RAMPercent = vm.UsedPercent
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}

	for _, db := range s.dbs.All() {
		entry := DBHealth{Name: db.Name(), OK: true}
		if err := db.HealthCheck(r.Context()); err != nil {
			entry.OK = false
			entry.Error = err.Error()
			resp.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			entry.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			entry.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
		}
		resp.Databases = append(resp.Databases, entry)
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	cfg, err := scoringConfig(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := screener.RankOptions{
		Limit:    queryInt(r, "limit", 0),
		MinScore: queryFloat(r, "minScore", 0),
	}

	scores, err := s.screener.Rank(cfg, opts)
	if err != nil {
		s.log.Error().Err(err).Msg("Rank failed")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	cfg, err := scoringConfig(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := screener.ListOptions{
		Market:     r.URL.Query().Get("market"),
		Industry:   r.URL.Query().Get("industry"),
		Limit:      queryInt(r, "limit", 0),
		MinScore:   queryFloat(r, "minScore", 0),
		ShowScores: r.URL.Query().Get("scores") == "true",
	}

	stocks, err := s.screener.ListStocks(cfg, opts)
	if err != nil {
		s.log.Error().Err(err).Msg("Stock list failed")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stocks)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	cfg, err := scoringConfig(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	exp, err := s.screener.Explain(chi.URLParam(r, "ticker"), cfg)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exp)
}

// scoringConfig builds a scoring configuration from query parameters:
// weights=v,g,q,c,m, method=zscore|percentile|rolling, window=N.
func scoringConfig(r *http.Request) (scoring.Config, error) {
	cfg := scoring.DefaultConfig()

	weights, err := scoring.ParseWeights(r.URL.Query().Get("weights"))
	if err != nil {
		return cfg, err
	}
	cfg.Weights = weights

	method, err := scoring.ParseMethod(r.URL.Query().Get("method"))
	if err != nil {
		return cfg, err
	}
	cfg.Method = method

	if window := queryInt(r, "window", 0); window > 0 {
		cfg.Window = window
	}
	return cfg, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
