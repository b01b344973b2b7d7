package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/feedback"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/analytics"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/jobs"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/receipts"
)

const receiptID = "6f1c2b7e-3d4a-4c5b-9e8f-0a1b2c3d4e5f"

type stubJobs struct {
	upload   jobs.ImageUpload
	text     string
	err      error
	jobs     map[string]*entity.Job
	lastList string
}

func (s *stubJobs) SubmitImage(_ context.Context, up jobs.ImageUpload) (*entity.Job, error) {
	s.upload = up
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Job{ID: "job-image", Status: constants.JobStatusPending}, nil
}

func (s *stubJobs) SubmitText(_ context.Context, text string) (*entity.Job, error) {
	s.text = text
	if s.err != nil {
		return nil, s.err
	}
	return &entity.Job{ID: "job-text", Status: constants.JobStatusPending}, nil
}

func (s *stubJobs) Get(_ context.Context, id string) (*entity.Job, error) {
	if j, ok := s.jobs[id]; ok {
		return j, nil
	}
	return nil, common.NotFoundf("job %s not found", id)
}

func (s *stubJobs) List(_ context.Context, status string, _, _ int) ([]*entity.Job, error) {
	s.lastList = status
	return nil, nil
}

type stubReceipts struct {
	rec *entity.Receipt
}

func (s *stubReceipts) Filter(req receipts.ListReceiptsRequest) (entity.ReceiptFilter, error) {
	if req.Category == "bogus" {
		return entity.ReceiptFilter{}, common.InvalidInputf("unknown category")
	}
	return entity.ReceiptFilter{Limit: -1}, nil
}

func (s *stubReceipts) ListReceipts(_ context.Context, _ receipts.ListReceiptsRequest) ([]*entity.Receipt, int, error) {
	if s.rec == nil {
		return nil, 0, nil
	}
	return []*entity.Receipt{s.rec}, 1, nil
}

func (s *stubReceipts) GetReceipt(_ context.Context, id string) (*entity.Receipt, error) {
	if s.rec != nil && s.rec.ID == id {
		return s.rec, nil
	}
	return nil, common.NotFoundf("receipt %s not found", id)
}

func (s *stubReceipts) DeleteReceipt(ctx context.Context, id string) error {
	_, err := s.GetReceipt(ctx, id)
	return err
}

type stubFeedback struct {
	got constants.Category
}

func (s *stubFeedback) Apply(_ context.Context, id string, c constants.Category) (feedback.Outcome, error) {
	s.got = c
	return feedback.Outcome{
		Receipt:    &entity.Receipt{ID: id, Category: c, Corrected: true},
		Correction: &entity.Correction{ID: "corr-1", ReceiptID: id, CorrectedCategory: c},
		Unconsumed: 3,
	}, nil
}

type stubExport struct{}

func (stubExport) ExportReceiptsXLSX(context.Context, entity.ReceiptFilter) ([]byte, error) {
	return []byte("PK-xlsx"), nil
}

type stubRetrain struct {
	started bool
}

func (s *stubRetrain) Trigger(context.Context, constants.RetrainReason) (entity.RetrainRun, bool, error) {
	return entity.RetrainRun{ID: "run-1", State: constants.RetrainTraining}, s.started, nil
}

func (s *stubRetrain) Get(_ context.Context, id string) (entity.RetrainRun, error) {
	if id == "run-1" {
		return entity.RetrainRun{ID: id, State: constants.RetrainTraining}, nil
	}
	return entity.RetrainRun{}, common.NotFoundf("run %s not found", id)
}

func (s *stubRetrain) ActivateVersion(_ context.Context, v string) (*entity.ModelVersion, error) {
	if v == "busy" {
		return nil, common.NewAppError("RETRAIN_IN_PROGRESS", "a run is in flight", common.ErrConflict)
	}
	return &entity.ModelVersion{VersionID: v, Active: true}, nil
}

type stubModels struct{}

func (stubModels) List(context.Context) ([]*entity.ModelVersion, error) { return nil, nil }

type stubAnalytics struct {
	from, to *time.Time
	top      int
}

func (s *stubAnalytics) Summary(_ context.Context, from, to *time.Time, top int) (analytics.Summary, error) {
	s.from, s.to, s.top = from, to, top
	return analytics.Summary{TotalReceipts: 2, TotalSpent: 30}, nil
}

func (s *stubAnalytics) AdminMetrics(context.Context) (analytics.AdminMetrics, error) {
	return analytics.AdminMetrics{TotalReceipts: 2}, nil
}

type fixture struct {
	srv       *Server
	jobs      *stubJobs
	receipts  *stubReceipts
	feedback  *stubFeedback
	retrain   *stubRetrain
	analytics *stubAnalytics
}

func newFixture() fixture {
	f := fixture{
		jobs:      &stubJobs{jobs: map[string]*entity.Job{}},
		receipts:  &stubReceipts{rec: &entity.Receipt{ID: receiptID, Category: constants.Household}},
		feedback:  &stubFeedback{},
		retrain:   &stubRetrain{started: true},
		analytics: &stubAnalytics{},
	}
	f.srv = New(Deps{
		Jobs:           f.jobs,
		Receipts:       f.receipts,
		Feedback:       f.feedback,
		Export:         stubExport{},
		Retrain:        f.retrain,
		Models:         stubModels{},
		Analytics:      f.analytics,
		MaxUploadBytes: 1 << 20,
	})
	return f
}

func (f fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSubmitText(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"text":"SIEU THI ABC\nTotal: 352,000"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := f.do(req)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "job-text", body["job_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "SIEU THI ABC\nTotal: 352,000", f.jobs.text)
}

func TestSubmitImage(t *testing.T) {
	f := newFixture()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "receipt.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := f.do(req)

	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "job-image", decode(t, rr)["job_id"])
	assert.Equal(t, "receipt.jpg", f.jobs.upload.Filename)
	assert.Equal(t, []byte("jpeg bytes"), f.jobs.upload.Data)
}

func TestSubmitErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", common.InvalidInputf("text is empty"), http.StatusBadRequest, "INVALID_INPUT"},
		{"queue full", common.NewAppError("QUEUE_FULL", "queue is full", common.ErrQueueFull), http.StatusServiceUnavailable, "QUEUE_FULL"},
		{"internal", assert.AnError, http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.jobs.err = tt.err
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"text":"x"}`))
			rr := f.do(req)
			require.Equal(t, tt.status, rr.Code)
			body := decode(t, rr)
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			} else {
				assert.Equal(t, "internal error", body["error"])
			}
			assert.NotEmpty(t, body["request_id"])
		})
	}
}

func TestSubmitRejectsMalformedBodies(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestGetJob(t *testing.T) {
	f := newFixture()
	f.jobs.jobs["j1"] = &entity.Job{ID: "j1", Status: constants.JobStatusCompleted}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "completed", decode(t, rr)["status"])

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rr)["code"])
}

func TestListJobsValidatesPaging(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/jobs?status=failed&limit=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "failed", f.jobs.lastList)
	assert.Equal(t, []any{}, decode(t, rr)["jobs"])

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/jobs?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReceiptRoutes(t *testing.T) {
	f := newFixture()

	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/receipts", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, decode(t, rr)["total"])

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/receipts/"+receiptID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Household", decode(t, rr)["category"])

	rr = f.do(httptest.NewRequest(http.MethodDelete, "/v1/receipts/"+receiptID, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodPut, "/v1/receipts/"+receiptID, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestExportIsNotCapturedAsID(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/receipts/export?from=2025-01-01", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "PK-xlsx", rr.Body.String())

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/receipts/export?category=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCorrection(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/receipts/"+receiptID+"/corrections",
		strings.NewReader(`{"category":"food"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, constants.Food, f.feedback.got)
	body := decode(t, rr)
	assert.EqualValues(t, 3, body["unconsumed_corrections"])
	assert.Equal(t, "corr-1", body["correction"].(map[string]any)["id"])
}

func TestCorrectionRejectsUnknownCategoryAndReceipt(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/receipts/"+receiptID+"/corrections",
		strings.NewReader(`{"category":"Spaceships"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/receipts/00000000-0000-4000-8000-000000000000/corrections",
		strings.NewReader(`{"category":"Food"}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, f.feedback.got)
}

func TestRetrainTrigger(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/retrain", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, true, body["started"])

	f.retrain.started = false
	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/retrain", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode(t, rr)["started"])

	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/v1/retrain/run-1", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/v1/retrain/nope", nil)).Code)
}

func TestModelRoutes(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decode(t, rr)["models"])

	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/models/category_clf_v20250301_100000/activate", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["active"])

	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/models/busy/activate", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCategories(t *testing.T) {
	rr := newFixture().do(httptest.NewRequest(http.MethodGet, "/v1/categories", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Len(t, body["categories"], len(constants.All()))
	assert.Equal(t, "Other", body["fallback"])
}

func TestAnalyticsSummary(t *testing.T) {
	f := newFixture()
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/analytics/summary?from=2025-01-01&to=2025-01-31", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, f.analytics.from)
	assert.Equal(t, "2025-01-31", f.analytics.to.Format("2006-01-02"))
	assert.Equal(t, analytics.DefaultTopMerchants, f.analytics.top)

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/analytics/summary?from=2025-02-01&to=2025-01-01", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/analytics/summary?from=01/02/2025", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decode(t, rr)["total_receipts"])
}

func TestHealthzEchoesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr := newFixture().do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-42", rr.Header().Get(requestIDHeader))
	assert.Equal(t, "ok", decode(t, rr)["status"])
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	f := newFixture()
	f.srv.deps.Analytics = nil
	rr := f.do(httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decode(t, rr)["error"])
}

func TestGRPCHealth(t *testing.T) {
	hs, err := NewHealthServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	go func() { _ = hs.Serve() }()
	t.Cleanup(hs.Stop)

	conn, err := grpc.NewClient(hs.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	hs.SetServing(true)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}
