package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Gmelendi/listeando-app/pkg/research"
	"github.com/Gmelendi/listeando-app/pkg/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *memStore, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := newMemStore()
	svc := NewService(st, staticRunner(&research.Result{Title: "T", Records: []map[string]any{}}, nil))
	svc.Logger = slog.New(slog.DiscardHandler)
	svc.Start(1)
	t.Cleanup(svc.Stop)

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r, st, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateListEndpoint(t *testing.T) {
	r, st, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/lists", map[string]string{"prompt": "vegan brunch lisbon"}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var list store.List
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if list.Status != store.StatusProcessing {
		t.Errorf("status = %q, want processing at submission", list.Status)
	}
	st.waitDone(t, list.ID)
}

func TestDeleteListEndpoint(t *testing.T) {
	r, st, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/lists", map[string]string{"prompt": "vegan brunch lisbon"}, nil)
	var list store.List
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	st.waitDone(t, list.ID)

	w = doJSON(t, r, http.MethodDelete, "/api/lists/"+list.ID.String(), nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/lists/"+list.ID.String(), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/lists/"+list.ID.String(), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/lists/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", w.Code)
	}
}

func TestCreateListRequiresPrompt(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/lists", map[string]string{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetListNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/lists/0b7aa708-1c15-4b4a-8645-1ad0f0771e6f", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/lists/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed id", w.Code)
	}
}

func TestListEndpointsReturnEmptyArrays(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, path := range []string{
		"/api/lists",
		"/api/lists/session/nope",
		"/api/lists/0b7aa708-1c15-4b4a-8645-1ad0f0771e6f/logs",
	} {
		w := doJSON(t, r, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
			continue
		}
		if body := strings.TrimSpace(w.Body.String()); body != "[]" {
			t.Errorf("%s: body = %q, want empty array", path, body)
		}
	}
}

func TestEnhancePromptEndpoint(t *testing.T) {
	r, _, svc := newTestRouter(t)
	svc.Enhancer = &fakeEnhancer{response: "A detailed research prompt."}

	w := doJSON(t, r, http.MethodPost, "/api/prompt/enhance", map[string]string{"prompt": "vegan brunch"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Prompt != "A detailed research prompt." {
		t.Errorf("prompt = %q", resp.Prompt)
	}
}

func TestMCPLifecycle(t *testing.T) {
	r, st, _ := newTestRouter(t)

	// initialize establishes a session
	w := doJSON(t, r, http.MethodPost, "/mcp", MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("initialize status = %d", w.Code)
	}
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("no session ID returned")
	}
	headers := map[string]string{"Mcp-Session-Id": sessionID}

	// tools/list exposes the two list tools
	w = doJSON(t, r, http.MethodPost, "/mcp", MCPRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"}, headers)
	if !strings.Contains(w.Body.String(), "create_list") || !strings.Contains(w.Body.String(), "get_list") {
		t.Errorf("tools/list body = %s", w.Body.String())
	}

	// tools/call create_list starts a job
	params, _ := json.Marshal(map[string]any{
		"name":      "create_list",
		"arguments": map[string]string{"prompt": "vegan brunch lisbon"},
	})
	w = doJSON(t, r, http.MethodPost, "/mcp", MCPRequest{JSONRPC: "2.0", ID: 3, Method: "tools/call", Params: params}, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/call status = %d", w.Code)
	}
	var resp MCPResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("tools/call error = %v", resp.Error)
	}
	if !strings.Contains(w.Body.String(), "Created list job") {
		t.Errorf("tools/call body = %s", w.Body.String())
	}

	// let the background job finish before the router shuts down
	for id := range st.lists {
		st.waitDone(t, id)
	}
}

func TestMCPRejectsMissingSession(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/mcp", MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "-32000") {
		t.Errorf("body = %s, want session error", w.Body.String())
	}
}

func TestMCPUnknownTool(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/mcp", MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"}, nil)
	headers := map[string]string{"Mcp-Session-Id": w.Header().Get("Mcp-Session-Id")}

	params, _ := json.Marshal(map[string]any{"name": "drop_tables", "arguments": map[string]string{}})
	w = doJSON(t, r, http.MethodPost, "/mcp", MCPRequest{JSONRPC: "2.0", ID: 2, Method: "tools/call", Params: params}, headers)

	var resp MCPResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("error = %v, want -32601", resp.Error)
	}
}
