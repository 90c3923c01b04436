package fitting

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"quel-fitting-server/modules/common/auth"
	"quel-fitting-server/modules/common/model"
)

const testSecret = "handler-test-secret"

func signToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newTestRouter(f *fixture) *mux.Router {
	r := mux.NewRouter()
	NewHandler(f.pipeline).RegisterRoutes(r, auth.NewVerifier(testSecret).Middleware)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHandleGenerate_Success(t *testing.T) {
	f := newFixture(t, 5)
	r := newTestRouter(f)

	rec, body := doJSON(t, r, http.MethodPost, "/api/fitting/generate", signToken(t, testUser),
		GenerateRequest{UploadIDs: []string{testUpload}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for _, key := range []string{"success", "generationId", "previewUrl", "thumbnailUrl", "creditsUsed", "creditsRemaining", "aiEditsApplied"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q: %v", key, body)
		}
	}
	if body["success"] != true || body["creditsUsed"] != float64(2) || body["creditsRemaining"] != float64(3) {
		t.Fatalf("body = %v", body)
	}
	if edits, ok := body["aiEditsApplied"].([]interface{}); !ok || len(edits) != 0 {
		t.Fatalf("aiEditsApplied = %v", body["aiEditsApplied"])
	}
}

func TestHandleGenerate_Unauthorized(t *testing.T) {
	f := newFixture(t, 5)
	r := newTestRouter(f)

	rec, _ := doJSON(t, r, http.MethodPost, "/api/fitting/generate", "", GenerateRequest{UploadIDs: []string{testUpload}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodPost, "/api/fitting/generate", "not-a-jwt", GenerateRequest{UploadIDs: []string{testUpload}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.store.generations) != 0 {
		t.Fatal("no record for unauthenticated calls")
	}
}

func TestHandleGenerate_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		body   interface{}
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			name:   "insufficient credits",
			setup:  func(t *testing.T, f *fixture) { f.store.balances[testUser] = 1 },
			body:   GenerateRequest{UploadIDs: []string{testUpload}},
			status: http.StatusPaymentRequired,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["required"] != float64(2) || body["available"] != float64(1) {
					t.Fatalf("body = %v", body)
				}
			},
		},
		{
			name:   "content safety",
			setup:  func(t *testing.T, f *fixture) { f.gateway.optimizeResult = &model.OptimizeResult{Error: "response blocked: SAFETY"} },
			body:   GenerateRequest{UploadIDs: []string{testUpload}},
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["retryable"] != true || body["error"] == "" {
					t.Fatalf("body = %v", body)
				}
			},
		},
		{
			name: "synthesis exhausted",
			setup: func(t *testing.T, f *fixture) {
				f.gateway.synthResults = []model.ImageResult{{Error: "a"}, {Error: "b"}}
			},
			body:   GenerateRequest{UploadIDs: []string{testUpload}},
			status: http.StatusBadGateway,
		},
		{
			name:   "missing upload",
			body:   GenerateRequest{UploadIDs: []string{"nope"}},
			status: http.StatusNotFound,
		},
		{
			name:   "empty uploadIds",
			body:   GenerateRequest{},
			status: http.StatusBadRequest,
		},
		{
			name:   "bad json",
			body:   "{",
			status: http.StatusBadRequest,
		},
		{
			name:   "bad regeneration type",
			body:   GenerateRequest{UploadIDs: []string{testUpload}, RegenerationType: "again"},
			status: http.StatusBadRequest,
		},
		{
			name:   "improvement text too long",
			body:   GenerateRequest{UploadIDs: []string{testUpload}, RegenerationType: "improvement", ImprovementText: strings.Repeat("가", 501)},
			status: http.StatusBadRequest,
		},
		{
			name: "foreign saved model",
			setup: func(t *testing.T, f *fixture) {
				f.store.savedModels["m-1"] = model.SavedModel{ID: "m-1", OwnerID: "other", StoragePath: "x"}
				u := f.store.uploads[testUpload]
				u.SelectedPoseID = "saved:m-1"
				f.store.uploads[testUpload] = u
			},
			body:   GenerateRequest{UploadIDs: []string{testUpload}},
			status: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			r := newTestRouter(f)

			rec, body := doJSON(t, r, http.MethodPost, "/api/fitting/generate", signToken(t, testUser), tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body.String())
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("error body missing: %v", body)
			}
			if tt.check != nil {
				tt.check(t, body)
			}
			if f.store.debits != 0 {
				t.Fatal("no debit on error responses")
			}
		})
	}
}

func TestHandleGenerate_SanitizesImprovementText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"markup stripped", "<script>x()</script>softer light", "softer light"},
		{"punctuation kept as text", `Don't make it "baggy" & keep 5'10"`, `Don't make it "baggy" & keep 5'10"`},
		{"tags around quotes", `<b>it's</b> fine`, "it's fine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			r := newTestRouter(f)

			rec, _ := doJSON(t, r, http.MethodPost, "/api/fitting/generate", signToken(t, testUser), GenerateRequest{
				UploadIDs: []string{testUpload}, RegenerationType: "feedback", ImprovementText: tt.text,
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if got := f.gateway.optimizeCalls[0].Refinement; got != tt.want {
				t.Fatalf("refinement = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandleGenerate_ImprovementCapCountsDecodedText(t *testing.T) {
	f := newFixture(t, 5)
	r := newTestRouter(f)

	// 500 글자의 '&' 는 escape 되면 2500 글자지만 제한은 원문 기준
	text := strings.Repeat("&", maxImprovementRunes)
	rec, _ := doJSON(t, r, http.MethodPost, "/api/fitting/generate", signToken(t, testUser), GenerateRequest{
		UploadIDs: []string{testUpload}, RegenerationType: "improvement", ImprovementText: text,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := f.gateway.optimizeCalls[0].Refinement; got != text {
		t.Fatalf("refinement has %d runes, want the original text", len(got))
	}
}

func TestHandleQuoteAndStatus(t *testing.T) {
	f := newFixture(t, 5)
	r := newTestRouter(f)
	token := signToken(t, testUser)

	rec, body := doJSON(t, r, http.MethodPost, "/api/fitting/quote", token, QuoteRequest{UploadIDs: []string{testUpload}})
	if rec.Code != http.StatusOK || body["total"] != float64(2) || body["balance"] != float64(5) || body["affordable"] != true {
		t.Fatalf("quote: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, r, http.MethodPost, "/api/fitting/generate", token, GenerateRequest{UploadIDs: []string{testUpload}})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: %d", rec.Code)
	}
	id := body["generationId"].(string)

	rec, body = doJSON(t, r, http.MethodGet, "/api/fitting/generations/"+id, token, nil)
	if rec.Code != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("status: %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/api/fitting/generations/"+id, signToken(t, "someone-else"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign status lookup = %d, want 404", rec.Code)
	}
}
