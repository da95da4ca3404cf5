package cdr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"callrecording-platform/internal/connections"
	"callrecording-platform/internal/jobs"
)

func webhookRouter(t *testing.T) (*gin.Engine, *MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := NewMemoryRepo()
	conns := connections.NewMemoryRepo()
	conns.Put(connections.Connection{
		ID:            "conn-1",
		TenantID:      "tenant-1",
		WebhookSecret: "s3cret",
		Status:        connections.StatusActive,
	})
	ingest := MemoryIngest{Records: repo, Jobs: jobs.NewMemoryStore()}
	svc := NewService(repo, conns, ingest, nil, testLogger())

	r := gin.New()
	r.POST("/webhooks/pbx/:connection_id", WebhookHandler{Service: svc}.Handle)
	return r, repo
}

func postCDR(r *gin.Engine, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pbx/conn-1", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const sampleCDR = `{
  "uniqueid": "1710061200.42",
  "src": "+15550100",
  "dst": "1001",
  "disposition": "ANSWERED",
  "start": "2026-03-10 09:00:00",
  "answer": "2026-03-10 09:00:04",
  "end": "2026-03-10 09:01:34",
  "duration": 94,
  "billsec": 90,
  "recordingfile": "in-1001-20260310-090000.wav",
  "src_trunk_name": "sip-trunk-1"
}`

func TestWebhook_Accepts(t *testing.T) {
	r, repo := webhookRouter(t)

	w := postCDR(r, "s3cret", sampleCDR)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var res IngestResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.CallRecordID == "" || res.JobID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}

	rec, err := repo.GetByID(context.Background(), res.CallRecordID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Direction != DirectionInbound {
		t.Fatalf("direction = %q, want inbound for src trunk", rec.Direction)
	}
	if rec.AnswerTime == nil {
		t.Fatal("answer time not parsed")
	}
}

func TestWebhook_DuplicateReturns200(t *testing.T) {
	r, _ := webhookRouter(t)

	if w := postCDR(r, "s3cret", sampleCDR); w.Code != http.StatusCreated {
		t.Fatalf("first delivery status = %d", w.Code)
	}
	w := postCDR(r, "s3cret", sampleCDR)
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", w.Code)
	}

	var res IngestResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Duplicate {
		t.Fatal("redelivery not flagged duplicate")
	}
}

func TestWebhook_BadSecret(t *testing.T) {
	r, _ := webhookRouter(t)

	if w := postCDR(r, "wrong", sampleCDR); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if w := postCDR(r, "", sampleCDR); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d, want 401", w.Code)
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	r, _ := webhookRouter(t)

	if w := postCDR(r, "s3cret", `{"src": "1001"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing uniqueid status = %d, want 400", w.Code)
	}
	if w := postCDR(r, "s3cret", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("garbage body status = %d, want 400", w.Code)
	}
	bad := strings.Replace(sampleCDR, "2026-03-10 09:00:00", "yesterday", 1)
	if w := postCDR(r, "s3cret", bad); w.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp status = %d, want 400", w.Code)
	}
}

func TestInferDirection(t *testing.T) {
	cases := []struct {
		srcTrunk, dstTrunk string
		want               Direction
	}{
		{"sip-trunk-1", "", DirectionInbound},
		{"", "sip-trunk-1", DirectionOutbound},
		{"", "", DirectionInternal},
	}
	for _, tc := range cases {
		if got := InferDirection(tc.srcTrunk, tc.dstTrunk); got != tc.want {
			t.Fatalf("InferDirection(%q, %q) = %q, want %q", tc.srcTrunk, tc.dstTrunk, got, tc.want)
		}
	}
}
