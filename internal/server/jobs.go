package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/jobs"
)

type submitTextRequest struct {
	Text string `json:"text"`
}

type submitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// submitJob handles POST /v1/jobs with either a multipart "file" part or a
// JSON body carrying recognized text.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		job *entity.Job
		err error
	)
	switch mediaType {
	case "multipart/form-data":
		var up jobs.ImageUpload
		if up, err = s.readUpload(w, r); err == nil {
			job, err = s.deps.Jobs.SubmitImage(r.Context(), up)
		}
	case "application/json", "":
		var req submitTextRequest
		if err = json.NewDecoder(http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)).Decode(&req); err != nil {
			err = common.InvalidInputf("invalid JSON body: %v", err)
		} else {
			job, err = s.deps.Jobs.SubmitText(r.Context(), req.Text)
		}
	default:
		err = common.InvalidInputf("unsupported content type %q", mediaType)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, submitJobResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (jobs.ImageUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return jobs.ImageUpload{}, common.InvalidInputf("upload exceeds %d bytes", s.deps.MaxUploadBytes)
		}
		return jobs.ImageUpload{}, common.InvalidInputf("invalid multipart body: %v", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return jobs.ImageUpload{}, common.InvalidInputf("missing file part")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return jobs.ImageUpload{}, common.InvalidInputf("read upload: %v", err)
	}
	return jobs.ImageUpload{
		Data:        data,
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
	}, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pagination(q.Get("limit"), q.Get("offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Jobs.List(r.Context(), strings.TrimSpace(q.Get("status")), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*entity.Job{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"jobs": list, "count": len(list)})
}

func pagination(rawLimit, rawOffset string) (int, int, error) {
	limit, err := intParam("limit", rawLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err := intParam("offset", rawOffset)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(name, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.InvalidInputf("%s must be a non-negative integer", name)
	}
	return n, nil
}
