package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callqa-backend/internal/checklist"
	"callqa-backend/internal/queue"
)

type queueStub struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (q *queueStub) Send(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *MemoryRepo, *queueStub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := NewMemoryRepo()
	q := &queueStub{}
	h := NewHandler(&Service{Repo: repo, Queue: q})
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r, repo, q
}

func seedCall(t *testing.T, repo *MemoryRepo) Call {
	t.Helper()
	call, err := repo.Create(context.Background(), Call{
		OrderID:  "ORD-1",
		CallDate: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		AudioRef: "https://x/call.mp3",
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	return call
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateCallEnqueues(t *testing.T) {
	router, repo, q := setupRouter(t)

	resp := doJSON(router, http.MethodPost, "/api/v1/calls", map[string]any{
		"order_id":  "ORD-77",
		"call_date": "2026-02-01T10:00:00Z",
		"audio_url": "https://x/call.mp3",
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		CallID int64  `json:"call_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	call, err := repo.GetByID(context.Background(), created.CallID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if call.Status != StatusPending || call.Language != DefaultLanguage {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(q.messages) != 1 || q.messages[0].CallID != created.CallID || q.messages[0].AudioRef != "https://x/call.mp3" {
		t.Fatalf("unexpected queue messages %+v", q.messages)
	}
}

func TestCreateCallValidation(t *testing.T) {
	router, _, q := setupRouter(t)

	resp := doJSON(router, http.MethodPost, "/api/v1/calls", map[string]any{
		"order_id":  "ORD-77",
		"call_date": "2026-02-01T10:00:00Z",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if len(q.messages) != 0 {
		t.Fatalf("nothing should be enqueued")
	}
}

func TestCreateCallQueueFailureReturnsCallID(t *testing.T) {
	router, repo, q := setupRouter(t)
	q.err = errors.New("sqs down")

	resp := doJSON(router, http.MethodPost, "/api/v1/calls", map[string]any{
		"order_id":  "ORD-78",
		"call_date": "2026-02-01T10:00:00Z",
		"audio_url": "https://x/call.mp3",
	})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	var body struct {
		Error struct {
			Details struct {
				CallID int64  `json:"call_id"`
				Status string `json:"status"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := body.Error.Details.CallID
	if id == 0 || body.Error.Details.Status != StatusPending {
		t.Fatalf("expected stored call id in error details, got %+v", body.Error.Details)
	}
	if _, err := repo.GetByID(context.Background(), id); err != nil {
		t.Fatalf("call %d should exist: %v", id, err)
	}

	q.err = nil
	path := "/api/v1/calls/" + strconv.FormatInt(id, 10) + "/process"
	if resp := doJSON(router, http.MethodPost, path, nil); resp.Code != http.StatusAccepted {
		t.Fatalf("expected re-trigger to succeed, got %d", resp.Code)
	}
}

func TestProcessCall(t *testing.T) {
	router, repo, q := setupRouter(t)
	call := seedCall(t, repo)

	resp := doJSON(router, http.MethodPost, "/api/v1/calls/1/process", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if len(q.messages) != 1 || q.messages[0].CallID != call.ID {
		t.Fatalf("unexpected messages %+v", q.messages)
	}

	if resp := doJSON(router, http.MethodPost, "/api/v1/calls/99/process", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", resp.Code)
	}
	if resp := doJSON(router, http.MethodPost, "/api/v1/calls/abc/process", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.Code)
	}
}

func TestProcessCallQueueFailure(t *testing.T) {
	router, repo, q := setupRouter(t)
	seedCall(t, repo)
	q.err = errors.New("sqs down")

	if resp := doJSON(router, http.MethodPost, "/api/v1/calls/1/process", nil); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestStatusPendingAndError(t *testing.T) {
	router, repo, _ := setupRouter(t)
	call := seedCall(t, repo)

	resp := doJSON(router, http.MethodGet, "/api/v1/calls/1/status", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&view)
	if view["status"] != StatusPending {
		t.Fatalf("unexpected view %v", view)
	}
	if _, ok := view["result"]; ok {
		t.Fatalf("pending status must not include result")
	}

	if err := repo.MarkError(context.Background(), call.ID, "fetch audio https://x/call.mp3: http status 404"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	resp = doJSON(router, http.MethodGet, "/api/v1/calls/1/status", nil)
	view = map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&view)
	if view["status"] != StatusError || view["error"] != "fetch audio https://x/call.mp3: http status 404" {
		t.Fatalf("unexpected view %v", view)
	}
}

func TestStatusDoneIncludesScore(t *testing.T) {
	router, repo, _ := setupRouter(t)
	call := seedCall(t, repo)

	var answers checklist.Answers
	_ = answers.Apply(map[string]checklist.Value{"q1_1": checklist.True, "q1_2": checklist.True, "q1_3": checklist.False})
	if _, err := repo.Complete(context.Background(), call.ID, answers); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp := doJSON(router, http.MethodGet, "/api/v1/calls/1/status", nil)
	var view struct {
		Status     string                     `json:"status"`
		Result     map[string]checklist.Value `json:"result"`
		TotalScore int                        `json:"total_score"`
		MaxScore   int                        `json:"max_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != StatusDone || view.TotalScore != 2 || view.MaxScore != checklist.MaxScore {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.Result) != checklist.MaxScore {
		t.Fatalf("expected every checklist field, got %d", len(view.Result))
	}
}

func TestCorrectQuestionnaire(t *testing.T) {
	router, repo, _ := setupRouter(t)
	call := seedCall(t, repo)
	if _, err := repo.Complete(context.Background(), call.ID, checklist.Answers{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp := doJSON(router, http.MethodPut, "/api/v1/calls/1/questionnaire", map[string]any{"q13_1": true, "q14_1": nil})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	q, _ := repo.GetQuestionnaire(context.Background(), call.ID)
	if !q.CorrectedByHuman || !q.FilledByAI || q.TotalScore() != 1 {
		t.Fatalf("unexpected questionnaire %+v", q)
	}

	resp = doJSON(router, http.MethodPut, "/api/v1/calls/1/questionnaire", map[string]any{"q13_1": false, "bogus": true})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}
	q, _ = repo.GetQuestionnaire(context.Background(), call.ID)
	if q.Answers.Map()["q13_1"] != checklist.True {
		t.Fatalf("rejected correction must not partially apply")
	}
}

func TestCorrectQuestionnaireMissing(t *testing.T) {
	router, repo, _ := setupRouter(t)
	seedCall(t, repo)

	resp := doJSON(router, http.MethodPut, "/api/v1/calls/1/questionnaire", map[string]any{"q13_1": true})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestMemoryRepoClaimHonoursLease(t *testing.T) {
	repo := NewMemoryRepo()
	call := seedCall(t, repo)
	ctx := context.Background()
	base := time.Now().UTC()
	repo.now = func() time.Time { return base }

	claimed, err := repo.Claim(ctx, call.ID, time.Hour)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claimed.PreviousStatus != StatusPending || claimed.Call.Status != StatusProcessing {
		t.Fatalf("unexpected claim %+v", claimed)
	}

	repo.now = func() time.Time { return base.Add(15 * time.Minute) }
	_, err = repo.Claim(ctx, call.ID, time.Hour)
	var held *LeaseHeldError
	if !errors.Is(err, ErrAlreadyProcessing) || !errors.As(err, &held) {
		t.Fatalf("expected lease error, got %v", err)
	}
	if held.Remaining != 45*time.Minute {
		t.Fatalf("expected 45m remaining, got %s", held.Remaining)
	}

	repo.now = func() time.Time { return base.Add(2 * time.Hour) }
	claimed, err = repo.Claim(ctx, call.ID, time.Hour)
	if err != nil {
		t.Fatalf("expired lease should be reclaimable: %v", err)
	}
	if claimed.PreviousStatus != StatusProcessing {
		t.Fatalf("expected takeover from processing, got %q", claimed.PreviousStatus)
	}
	if _, err := repo.Claim(ctx, 404, time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepoClaimReportsPreviousStatus(t *testing.T) {
	repo := NewMemoryRepo()
	call := seedCall(t, repo)
	ctx := context.Background()

	if err := repo.MarkError(ctx, call.ID, "boom"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	claimed, err := repo.Claim(ctx, call.ID, time.Hour)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.PreviousStatus != StatusError || claimed.Call.ProcessingError != nil {
		t.Fatalf("unexpected claim %+v", claimed)
	}
}

func TestMemoryRepoCompletePreservesProvenance(t *testing.T) {
	repo := NewMemoryRepo()
	call := seedCall(t, repo)
	ctx := context.Background()

	if _, err := repo.Complete(ctx, call.ID, checklist.Answers{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := repo.ApplyCorrection(ctx, call.ID, map[string]checklist.Value{"q1_1": checklist.True}); err != nil {
		t.Fatalf("correct: %v", err)
	}
	q, err := repo.Complete(ctx, call.ID, checklist.Answers{})
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !q.CorrectedByHuman || repo.QuestionnaireCount() != 1 {
		t.Fatalf("upsert must update in place and keep flags: %+v count=%d", q, repo.QuestionnaireCount())
	}
	if q.Answers.Map()["q1_1"] != checklist.Unset {
		t.Fatalf("upsert must overwrite checklist fields")
	}
}
