package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/analytics"
)

func (s *Server) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := dateParam("from", q.Get("from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := dateParam("to", q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		s.writeError(w, r, common.InvalidInputf("to must not be before from"))
		return
	}
	top, err := intParam("top", q.Get("top"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if top == 0 {
		top = analytics.DefaultTopMerchants
	}
	sum, err := s.deps.Analytics.Summary(r.Context(), from, to, top)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sum)
}

func (s *Server) adminMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Analytics.AdminMetrics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, m)
}

func dateParam(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, common.InvalidInputf("%s must be YYYY-MM-DD", name)
	}
	return &t, nil
}
