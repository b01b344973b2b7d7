package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/receipts"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func listRequest(q url.Values) (receipts.ListReceiptsRequest, error) {
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		return receipts.ListReceiptsRequest{}, err
	}
	return receipts.ListReceiptsRequest{
		Category:  q.Get("category"),
		FromDate:  q.Get("from"),
		ToDate:    q.Get("to"),
		Corrected: q.Get("corrected"),
		Limit:     limit,
		Offset:    offset,
	}, nil
}

func (s *Server) listReceipts(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, total, err := s.deps.Receipts.ListReceipts(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*entity.Receipt{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"receipts": recs, "total": total})
}

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Receipts.GetReceipt(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Receipts.DeleteReceipt(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type correctionRequest struct {
	Category string `json:"category"`
}

type correctionResponse struct {
	Receipt               *entity.Receipt    `json:"receipt"`
	Correction            *entity.Correction `json:"correction,omitempty"`
	UnconsumedCorrections int                `json:"unconsumed_corrections"`
}

func (s *Server) correctReceipt(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, r, common.InvalidInputf("invalid JSON body: %v", err))
		return
	}
	category, err := receipts.ParseCategory(req.Category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	// validates the id and maps unknown receipts to 404
	if _, err := s.deps.Receipts.GetReceipt(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.deps.Feedback.Apply(r.Context(), id, category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, correctionResponse{
		Receipt:               out.Receipt,
		Correction:            out.Correction,
		UnconsumedCorrections: out.Unconsumed,
	})
}

func (s *Server) exportReceipts(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.deps.Receipts.Filter(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.deps.Export.ExportReceiptsXLSX(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("receipts_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		common.LoggerFromContext(r.Context(), s.logger).Warn("http.export.write_failed", "error", err)
	}
}
