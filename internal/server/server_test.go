package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"revenue-reconciler/internal/domain"
	"revenue-reconciler/internal/engine"
	"revenue-reconciler/internal/gateway"
	"revenue-reconciler/internal/progress"
	"revenue-reconciler/internal/usecase"
)

const csvHeader = "txn_id,revenue,sale_amount,status,brand,created"

var fullMapping = `{"txn_id":"txn_id","revenue":"revenue","sale_amount":"sale_amount","status":"status","brand":"brand","created":"created"}`

type testServer struct {
	*Server
	history *gateway.History
	tracker *progress.Tracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	reader := gateway.NewSpreadsheetReader()
	history := gateway.NewHistory(filepath.Join(dir, "reports"), gateway.NewReportWriter())
	tracker := progress.NewTracker(zerolog.Nop())
	s := New(Config{
		Reconciler: usecase.NewReconciliationUseCase(reader, engine.DefaultOptions(), zerolog.Nop()),
		Reader:     reader,
		History:    history,
		Tracker:    tracker,
		Log:        zerolog.Nop(),
		UploadDir:  dir,
	})
	return &testServer{Server: s, history: history, tracker: tracker}
}

type upload struct {
	field, name, content string
}

func multipartRequest(t *testing.T, target string, files []upload, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func csvLines(lines ...string) string {
	return strings.Join(append([]string{csvHeader}, lines...), "\n") + "\n"
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Headers(t *testing.T) {
	ts := newTestServer(t)

	t.Run("suggests a mapping", func(t *testing.T) {
		req := multipartRequest(t, "/api/headers", []upload{
			{field: "file", name: "network.csv", content: "Order ID,Payout,Order Sum,Status,Advertiser,Action Time\n1,2,3,ok,x,2024-01-01\n"},
		}, nil)
		rec := ts.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp headersResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"Order ID", "Payout", "Order Sum", "Status", "Advertiser", "Action Time"}, resp.Headers)
		assert.Equal(t, "Order ID", resp.Mapping[domain.FieldTxnID])
		assert.Equal(t, "Payout", resp.Mapping[domain.FieldRevenue])
		assert.Equal(t, "Order Sum", resp.Mapping[domain.FieldSaleAmount])
		assert.Equal(t, "Advertiser", resp.Mapping[domain.FieldBrand])
		assert.Equal(t, "Action Time", resp.Mapping[domain.FieldCreated])
	})

	t.Run("rejects unsupported files", func(t *testing.T) {
		req := multipartRequest(t, "/api/headers", []upload{
			{field: "file", name: "notes.txt", content: "hello"},
		}, nil)
		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires a file", func(t *testing.T) {
		req := multipartRequest(t, "/api/headers", nil, map[string]string{"other": "x"})
		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Reconcile(t *testing.T) {
	ts := newTestServer(t)

	req := multipartRequest(t, "/api/reconcile", []upload{
		{field: "file1", name: "network.csv", content: csvLines(
			"T1,10,100,approved,Acme,2024-01-05",
			"T2,5,50,pending,Acme,2024-01-06",
		)},
		{field: "file2", name: "platform.csv", content: csvLines(
			"T1,10,100,approved,Acme,2024-01-05",
			"T3,7,70,approved,Acme,2024-01-07",
		)},
	}, map[string]string{
		"mapping1": fullMapping,
		"mapping2": fullMapping,
		"run_id":   "run-42",
	})
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "run-42", rec.Header().Get("X-Run-ID"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "acme-validation-results-")

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(gateway.SummarySheet)
	require.NoError(t, err)
	metrics := map[string]string{}
	for _, row := range rows {
		if len(row) > 1 {
			metrics[row[0]] = row[1]
		}
	}
	assert.Equal(t, "1", metrics["Matching Records"])
	assert.Equal(t, "1", metrics["Only in A"])
	assert.Equal(t, "1", metrics["Only in B"])

	t.Run("report is stored", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/reports", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var entries []gateway.HistoryEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.True(t, strings.HasPrefix(entries[0].Name, "acme-validation-results-"))

		rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/reports/"+entries[0].Name, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotZero(t, rec.Body.Len())

		rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/reports/"+entries[0].Name+"/summary", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var items []gateway.SummaryItem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
		assert.Contains(t, items, gateway.SummaryItem{Metric: "Mismatched Records", Value: "0"})
	})

	t.Run("progress reports completion", func(t *testing.T) {
		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/progress/run-42", nil))
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		var last progress.Event
		scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
			}
		}
		assert.True(t, last.Done)
		assert.Equal(t, 100, last.Percentage)
		assert.Empty(t, last.Error)
	})
}

func summaryMetrics(t *testing.T, body []byte) map[string]string {
	t.Helper()
	wb, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(gateway.SummarySheet)
	require.NoError(t, err)
	metrics := map[string]string{}
	for _, row := range rows {
		if len(row) > 1 {
			metrics[row[0]] = row[1]
		}
	}
	return metrics
}

func TestServer_ReconcileSameBrandsKeepsEachReport(t *testing.T) {
	ts := newTestServer(t)

	runs := []struct {
		runID string
		rowsA []string
	}{
		{runID: "run-one", rowsA: []string{"T1,10,100,approved,Acme,2024-01-05"}},
		{runID: "run-two", rowsA: []string{
			"T1,10,100,approved,Acme,2024-01-05",
			"T2,20,100,approved,Acme,2024-01-06",
		}},
	}
	names := map[string]bool{}
	for _, run := range runs {
		rec := ts.do(multipartRequest(t, "/api/reconcile", []upload{
			{field: "file1", name: "network.csv", content: csvLines(run.rowsA...)},
			{field: "file2", name: "platform.csv", content: csvLines("T1,10,100,approved,Acme,2024-01-05")},
		}, map[string]string{"mapping1": fullMapping, "mapping2": fullMapping, "run_id": run.runID}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		metrics := summaryMetrics(t, rec.Body.Bytes())
		assert.Equal(t, run.runID, metrics["Run ID"])
		assert.Equal(t, strconv.Itoa(len(run.rowsA)), metrics["Total Records A"])
		names[rec.Header().Get("Content-Disposition")] = true
	}
	assert.Len(t, names, 2)

	entries, err := ts.history.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		items, err := ts.history.Summary(e.Name)
		require.NoError(t, err)
		assert.Contains(t, e.Name, strings.ReplaceAll(items[0].Value, "-", ""))
	}
}

func TestServer_ReconcileRejectsReusedRunID(t *testing.T) {
	ts := newTestServer(t)
	request := func() *http.Request {
		return multipartRequest(t, "/api/reconcile", []upload{
			{field: "file1", name: "a.csv", content: csvLines("T1,10,100,approved,Acme,2024-01-05")},
			{field: "file2", name: "b.csv", content: csvLines("T1,10,100,approved,Acme,2024-01-05")},
		}, map[string]string{"mapping1": fullMapping, "mapping2": fullMapping, "run_id": "run-7"})
	}

	rec := ts.do(request())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(request())
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "run-7")

	entries, err := ts.history.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	latest, ok := ts.tracker.Latest("run-7")
	require.True(t, ok)
	assert.True(t, latest.Done)
	assert.Empty(t, latest.Error)
}

func TestServer_ReconcileErrors(t *testing.T) {
	files := []upload{
		{field: "file1", name: "a.csv", content: csvLines("T1,10,100,approved,Acme,2024-01-05")},
		{field: "file2", name: "b.csv", content: csvLines("T1,10,100,approved,Acme,2024-01-05")},
	}

	tests := []struct {
		name       string
		files      []upload
		fields     map[string]string
		wantStatus int
		wantPhase  string
	}{
		{
			name:       "missing second file",
			files:      files[:1],
			fields:     map[string]string{"mapping1": fullMapping, "mapping2": fullMapping},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing mapping",
			files:      files,
			fields:     map[string]string{"mapping1": fullMapping},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed mapping",
			files:      files,
			fields:     map[string]string{"mapping1": fullMapping, "mapping2": "{"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "unmapped required column",
			files: files,
			fields: map[string]string{
				"mapping1": fullMapping,
				"mapping2": `{"txn_id":"txn_id","revenue":"revenue"}`,
				"run_id":   "run-bad",
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantPhase:  string(domain.StepValidation),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(multipartRequest(t, "/api/reconcile", tt.files, tt.fields))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantPhase, resp.Phase)

			entries, err := ts.history.List()
			require.NoError(t, err)
			assert.Empty(t, entries)

			if tt.wantPhase != "" {
				ev, ok := ts.tracker.Latest("run-bad")
				require.True(t, ok)
				assert.True(t, ev.Done)
				assert.NotEmpty(t, ev.Error)
			}
		})
	}
}

func TestServer_ReportLookupErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "not a report", path: "/api/reports/notes.txt", wantStatus: http.StatusBadRequest},
		{name: "unknown report", path: "/api/reports/missing.xlsx", wantStatus: http.StatusNotFound},
		{name: "unknown summary", path: "/api/reports/missing.xlsx/summary", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
