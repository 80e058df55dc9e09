package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/lwarden/fixcal/internal/calib"
)

type stubRunner struct {
	mu      sync.Mutex
	calls   []CalibrationRequest
	result  *calib.Result
	err     error
	started chan struct{}
}

func (r *stubRunner) Calibrate(_ context.Context, req *CalibrationRequest) (*calib.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, *req)
	r.mu.Unlock()
	if r.started != nil {
		<-r.started
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func newTestEcho(runner CalibrationRunner) *echo.Echo {
	server := NewServer(NewRunStore(), runner, nil)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCalibrationLifecycle(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: &calib.Result{RunID: "r1", Baseline: 0.9, Combined: 0.88}}
	e := newTestEcho(runner)

	body := `{"model":"net.json","weights":"net.fxw","data":"calib.fxw","iterations":10}`
	createRec := doJSON(t, e, http.MethodPost, "/v1/calibrations", body)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", createRec.Code, createRec.Body.String())
	}

	var created CalibrationResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || created.Object != "calibration" {
		t.Fatalf("unexpected response: %+v", created)
	}
	if created.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", created.Status)
	}
	if created.Result == nil || created.Result.Baseline != 0.9 {
		t.Fatalf("result missing: %+v", created.Result)
	}

	// Defaults are filled in before the runner sees the request.
	runner.mu.Lock()
	got := runner.calls[0]
	runner.mu.Unlock()
	if got.TrimmingMode != calib.TrimmingDynamicFixedPoint {
		t.Fatalf("trimming mode = %q", got.TrimmingMode)
	}
	if len(got.WeightBits) != 1 || got.WeightBits[0] != 8 {
		t.Fatalf("weight bits = %v", got.WeightBits)
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/calibrations/"+created.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", getRec.Code, getRec.Body.String())
	}

	listRec := doJSON(t, e, http.MethodGet, "/v1/calibrations", "")
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status: got %d", listRec.Code)
	}
	var list CalibrationList
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 1 {
		t.Fatalf("list = %+v", list)
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/calibrations/"+created.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d body=%s", delRec.Code, delRec.Body.String())
	}
	if !strings.Contains(delRec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delRec.Body.String())
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/calibrations/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&stubRunner{})

	cases := []struct {
		body string
		want string
	}{
		{`{"weights":"w","data":"d"}`, "model is required"},
		{`{"model":"m","data":"d"}`, "weights is required"},
		{`{"model":"m","weights":"w"}`, "data is required"},
		{``, "empty request body"},
	}
	for _, tc := range cases {
		rec := doJSON(t, e, http.MethodPost, "/v1/calibrations", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", tc.body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("body %q: error %s missing %q", tc.body, rec.Body.String(), tc.want)
		}
	}
}

func TestCreateRunnerFailure(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: errors.New("dataset unreadable")}
	e := newTestEcho(runner)

	rec := doJSON(t, e, http.MethodPost, "/v1/calibrations", `{"model":"m","weights":"w","data":"d","iterations":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var run CalibrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if !strings.Contains(run.Error, "dataset unreadable") {
		t.Fatalf("error = %q", run.Error)
	}
}

func TestBackgroundRunPolling(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		result:  &calib.Result{RunID: "r2", Baseline: 0.7, Combined: 0.7},
		started: make(chan struct{}),
	}
	e := newTestEcho(runner)

	rec := doJSON(t, e, http.MethodPost, "/v1/calibrations",
		`{"model":"m","weights":"w","data":"d","iterations":1,"background":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var run CalibrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Status != StatusQueued {
		t.Fatalf("status = %q, want queued", run.Status)
	}

	// Release the runner and poll until it completes.
	close(runner.started)
	deadline := time.Now().Add(5 * time.Second)
	for {
		getRec := doJSON(t, e, http.MethodGet, "/v1/calibrations/"+run.ID, "")
		var got CalibrationResponse
		if err := json.Unmarshal(getRec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode poll: %v", err)
		}
		if got.Status == StatusCompleted {
			if got.Result == nil || got.Result.Baseline != 0.7 {
				t.Fatalf("result = %+v", got.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never completed: %+v", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
