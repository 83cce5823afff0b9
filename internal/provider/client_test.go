package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quill/internal/config"
	"quill/internal/provider"
	"quill/internal/services"
)

type recordedRequest struct {
	path    string
	headers http.Header
	body    map[string]any
}

// chatServer returns a stub provider that records each request and replies
// with the configured body and status.
func chatServer(t *testing.T, status int, response string, sink *[]recordedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body failed: %v", err)
		}
		var body map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("decode request body failed: %v", err)
			}
		}
		*sink = append(*sink, recordedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server
}

func testLLM(baseURL string) config.LLM {
	return config.LLM{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "test-model",
		Referer: "https://example.test",
		Title:   "Quill Test",
	}
}

func TestAvailableReportsMissingConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.LLM
	}{
		{"missing api key", config.LLM{BaseURL: "http://localhost", Model: "m"}},
		{"missing model", config.LLM{APIKey: "k", BaseURL: "http://localhost"}},
		{"missing base url", config.LLM{APIKey: "k", Model: "m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := provider.NewClient(tc.cfg).Available()
			if !services.IsKind(err, services.KindPrerequisiteUnmet) {
				t.Fatalf("Available returned %v, want prerequisite_unmet", err)
			}
		})
	}

	if err := provider.NewClient(testLLM("http://localhost")).Available(); err != nil {
		t.Fatalf("Available failed on complete config: %v", err)
	}
}

func TestChatReturnsFirstChoice(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK,
		`{"choices":[{"message":{"content":"  hello world \n"}},{"message":{"content":"ignored"}}]}`,
		&requests)

	client := provider.NewClient(testLLM(server.URL))
	content, err := client.Chat(context.Background(), provider.ChatRequest{
		System: "be terse",
		User:   "say hello",
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if content != "hello world" {
		t.Fatalf("Chat returned %q, want trimmed first choice", content)
	}

	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}
	req := requests[0]
	if req.path != "/chat/completions" {
		t.Fatalf("request hit %s, want /chat/completions", req.path)
	}
	if got := req.headers.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("Authorization header was %q", got)
	}
	if got := req.headers.Get("HTTP-Referer"); got != "https://example.test" {
		t.Fatalf("HTTP-Referer header was %q", got)
	}
	if got := req.headers.Get("X-Title"); got != "Quill Test" {
		t.Fatalf("X-Title header was %q", got)
	}
	if req.body["model"] != "test-model" {
		t.Fatalf("request model was %v", req.body["model"])
	}
	if _, ok := req.body["response_format"]; ok {
		t.Fatal("response_format sent without JSONResponse")
	}
	messages, ok := req.body["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("request messages were %v, want system + user", req.body["messages"])
	}
	first := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be terse" {
		t.Fatalf("first message was %v", first)
	}
}

func TestChatRequestsJSONFormatWhenAsked(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK,
		`{"choices":[{"message":{"content":"{\"tags\":[]}"}}]}`,
		&requests)

	client := provider.NewClient(testLLM(server.URL))
	if _, err := client.Chat(context.Background(), provider.ChatRequest{User: "classify", JSONResponse: true}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	format, ok := requests[0].body["response_format"].(map[string]any)
	if !ok || format["type"] != "json_object" {
		t.Fatalf("response_format was %v, want json_object", requests[0].body["response_format"])
	}
	if messages := requests[0].body["messages"].([]any); len(messages) != 1 {
		t.Fatalf("blank system prompt produced %d messages, want 1", len(messages))
	}
}

func TestChatSurfacesEmbeddedError(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK, `{"error":{"message":"model overloaded"}}`, &requests)

	_, err := provider.NewClient(testLLM(server.URL)).Chat(context.Background(), provider.ChatRequest{User: "hi"})
	if err == nil {
		t.Fatal("Chat succeeded on embedded error response")
	}
	details := services.Details(err)
	if details.Category != "server" {
		t.Fatalf("embedded error category was %q, want server", details.Category)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error message %q does not carry provider message", err)
	}
}

func TestChatRejectsEmptyChoices(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK, `{"choices":[]}`, &requests)

	_, err := provider.NewClient(testLLM(server.URL)).Chat(context.Background(), provider.ChatRequest{User: "hi"})
	if details := services.Details(err); details.Category != "server" {
		t.Fatalf("empty choices produced %v, want server category", err)
	}
}

func TestChatCategorizesStatusCodes(t *testing.T) {
	cases := []struct {
		status   int
		category string
	}{
		{http.StatusUnauthorized, "auth"},
		{http.StatusForbidden, "auth"},
		{http.StatusTooManyRequests, "rate_limit"},
		{http.StatusNotFound, "capability"},
		{http.StatusUnprocessableEntity, "capability"},
		{http.StatusInternalServerError, "server"},
		{http.StatusBadGateway, "server"},
		{http.StatusBadRequest, "client"},
	}
	for _, tc := range cases {
		t.Run(tc.category, func(t *testing.T) {
			var requests []recordedRequest
			server := chatServer(t, tc.status, `{"error":{"message":"no"}}`, &requests)

			_, err := provider.NewClient(testLLM(server.URL)).Chat(context.Background(), provider.ChatRequest{User: "hi"})
			if err == nil {
				t.Fatalf("status %d did not fail", tc.status)
			}
			if !services.IsKind(err, services.KindUpstreamFailure) {
				t.Fatalf("status %d returned %v, want upstream_failure", tc.status, err)
			}
			if details := services.Details(err); details.Category != tc.category {
				t.Fatalf("status %d categorized as %q, want %q", tc.status, details.Category, tc.category)
			}
			var typed *services.Error
			if !errors.As(err, &typed) || typed.Detail("status") == "" {
				t.Fatalf("status %d error carries no status detail: %v", tc.status, err)
			}
		})
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK, `{"data":[{"embedding":[0.25,0.5,0.75]}]}`, &requests)

	cfg := testLLM(server.URL)
	cfg.EmbeddingModel = "embed-model"
	vector, err := provider.NewClient(cfg).Embed(context.Background(), "graph theory")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vector) != 3 || vector[1] != 0.5 {
		t.Fatalf("Embed returned %v", vector)
	}
	if requests[0].path != "/embeddings" {
		t.Fatalf("request hit %s, want /embeddings", requests[0].path)
	}
	if requests[0].body["model"] != "embed-model" {
		t.Fatalf("embed request used model %v, want embed-model", requests[0].body["model"])
	}
	if requests[0].body["input"] != "graph theory" {
		t.Fatalf("embed request input was %v", requests[0].body["input"])
	}
}

func TestEmbedFallsBackToChatModel(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK, `{"data":[{"embedding":[1]}]}`, &requests)

	if _, err := provider.NewClient(testLLM(server.URL)).Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if requests[0].body["model"] != "test-model" {
		t.Fatalf("embed fallback model was %v, want test-model", requests[0].body["model"])
	}
}

func TestEmbedRejectsEmptyData(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK, `{"data":[]}`, &requests)

	_, err := provider.NewClient(testLLM(server.URL)).Embed(context.Background(), "x")
	if details := services.Details(err); details.Category != "server" {
		t.Fatalf("empty data produced %v, want server category", err)
	}
}

func TestRequestFailureCategorizedAsNetwork(t *testing.T) {
	cfg := testLLM("http://127.0.0.1:1")
	_, err := provider.NewClient(cfg).Chat(context.Background(), provider.ChatRequest{User: "hi"})
	if err == nil {
		t.Fatal("Chat succeeded against closed port")
	}
	if details := services.Details(err); details.Category != "network" {
		t.Fatalf("connection failure categorized as %q, want network", details.Category)
	}
}

func TestChatPassesThroughCancellation(t *testing.T) {
	var requests []recordedRequest
	server := chatServer(t, http.StatusOK, `{}`, &requests)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := provider.NewClient(testLLM(server.URL)).Chat(ctx, provider.ChatRequest{User: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context returned %v, want context.Canceled", err)
	}
}
