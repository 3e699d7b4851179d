package questionnaire

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
	chatservice "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/diagnosis"
)

func setupRouter(t *testing.T) (*chi.Mux, string) {
	t.Helper()
	chats := chatservice.NewService()
	conv, err := chats.CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	svc := diagnosis.NewService(diagnosis.Config{}, chats, questionnaire.NewMemoryStore(questionnaire.Seed()), nil, nil)

	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r, conv.ID
}

func request(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestGetQuestionnaire(t *testing.T) {
	r, _ := setupRouter(t)

	resp := request(r, http.MethodGet, "/health/questionnaire/tongue", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var env struct {
		Data questionnaire.Questionnaire `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Title != "舌诊前问卷" || len(env.Data.Questions) != 4 {
		t.Fatalf("unexpected questionnaire %+v", env.Data)
	}

	if resp := request(r, http.MethodGet, "/health/questionnaire/pulse", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSaveAnswers(t *testing.T) {
	r, convID := setupRouter(t)

	resp := request(r, http.MethodPost, "/health/questionnaire/answers", map[string]any{
		"conversationId": convID,
		"answers":        map[string]string{"q1": "a", "q2": "c", "q3": "a,c"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = request(r, http.MethodPost, "/health/questionnaire/answers", map[string]any{"answers": map[string]string{"q1": "a"}})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	resp = request(r, http.MethodPost, "/health/questionnaire/answers", map[string]any{
		"conversationId": "missing",
		"answers":        map[string]string{"q1": "a"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestCompletedReturnsFollowUp(t *testing.T) {
	r, convID := setupRouter(t)

	resp := request(r, http.MethodPost, "/health/questionnaire/completed", map[string]string{
		"conversationId": convID,
		"diagnosisType":  "face",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var env struct {
		Data chat.FollowUp `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.ActionCard == nil || env.Data.ActionCard.Type != chat.CardFaceDiagnosis {
		t.Fatalf("expected a face capture card, got %+v", env.Data)
	}
}
