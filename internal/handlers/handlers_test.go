package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fruit-check/internal/auth"
	"github.com/example/fruit-check/internal/classifier"
	"github.com/example/fruit-check/internal/usecase"
	"github.com/example/fruit-check/internal/view"
)

type testEnv struct {
	router   *gin.Engine
	uc       *usecase.AnalysisUseCase
	calls    *int32
	cookies  []*http.Cookie
	upstream *httptest.Server
}

func newTestEnv(t *testing.T, upstream http.HandlerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		upstream(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := classifier.NewHTTPClient(classifier.Options{BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}
	sessions, err := auth.NewSessions("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to build sessions: %v", err)
	}

	uc := usecase.NewAnalysisUseCase(usecase.NewMemoryStore(0), client, nil, zap.NewNop())
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, uc, auth.SessionMiddleware(sessions), zap.NewNop())

	return &testEnv{router: router, uc: uc, calls: &calls, upstream: server}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	for _, cookie := range e.cookies {
		req.AddCookie(cookie)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	if set := resp.Result().Cookies(); len(set) > 0 {
		e.cookies = set
	}
	return resp
}

func decodePage(t *testing.T, resp *httptest.ResponseRecorder) view.Page {
	t.Helper()
	var page view.Page
	if err := json.Unmarshal(resp.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode page %q: %v", resp.Body.String(), err)
	}
	return page
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadRejectsLargeFile(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	payload := append(pngBytes(t), bytes.Repeat([]byte("a"), MaxUploadSize)...)
	body, contentType := buildMultipartBody(t, "big.png", "image/png", payload[:MaxUploadSize-4096])
	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", contentType)

	resp := env.do(t, req)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	body, contentType := buildMultipartBody(t, "huge.png", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", contentType)

	resp := env.do(t, req)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestUploadRejectsUnsupportedContentType(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	body, contentType := buildMultipartBody(t, "notes.png", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", contentType)

	resp := env.do(t, req)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	req := httptest.NewRequest(http.MethodPost, "/api/session/image", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")

	resp := env.do(t, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestAnalyzeWithoutImageIsIgnored(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{"class":"freshapples","confidence":0.9}`))

	resp := env.do(t, httptest.NewRequest(http.MethodPost, "/api/session/analyze", nil))
	env.uc.Wait()

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.Code)
	}
	if page := decodePage(t, resp); page.Phase != usecase.PhaseIdle || page.Result.Display != view.DisplayEmpty {
		t.Fatalf("unexpected page %+v", page)
	}
	if atomic.LoadInt32(env.calls) != 0 {
		t.Fatalf("expected no classifier calls, got %d", *env.calls)
	}
}

func TestAnalysisFlow(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{"class":"freshbanana","confidence":0.876}`))

	body, contentType := buildMultipartBody(t, "banana.png", "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", contentType)
	resp := env.do(t, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("upload failed with %d: %s", resp.Code, resp.Body.String())
	}
	page := decodePage(t, resp)
	if page.Phase != usecase.PhasePreviewing || page.Preview == nil || page.Preview.Width != 2 {
		t.Fatalf("unexpected page after upload %+v", page)
	}

	resp = env.do(t, httptest.NewRequest(http.MethodPost, "/api/session/analyze", nil))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, resp.Code)
	}
	if page := decodePage(t, resp); page.Result.Display != view.DisplayProcessing || page.Preview.CanAnalyze {
		t.Fatalf("expected processing page, got %+v", page)
	}
	env.uc.Wait()

	page = decodePage(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil)))
	if page.Phase != usecase.PhasePreviewingWithResult {
		t.Fatalf("unexpected phase %s", page.Phase)
	}
	if page.Result.FruitName != "Banana" || page.Result.ConditionText != "Fresh" || page.Result.Confidence != 88 {
		t.Fatalf("unexpected result %+v", page.Result)
	}
	if !page.Preview.Ready || !strings.HasPrefix(page.Preview.DataURL, "data:image/png;base64,") {
		t.Fatalf("expected preview data URL, got %+v", page.Preview)
	}

	resp = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	if page := decodePage(t, resp); page.Phase != usecase.PhaseIdle || page.Preview != nil {
		t.Fatalf("expected idle page after reset, got %+v", page)
	}
}

func TestClassifierFailureBecomesNotification(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	body, contentType := buildMultipartBody(t, "apple.png", "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", contentType)
	env.do(t, req)
	env.do(t, httptest.NewRequest(http.MethodPost, "/api/session/analyze", nil))
	env.uc.Wait()

	page := decodePage(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil)))
	if len(page.Notifications) != 1 || page.Notifications[0].Message != "Error 502: Bad Gateway" {
		t.Fatalf("unexpected notifications %+v", page.Notifications)
	}
	if page.Result.Display != view.DisplayEmpty || page.Phase != usecase.PhasePreviewing {
		t.Fatalf("unexpected page %+v", page)
	}

	page = decodePage(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil)))
	if len(page.Notifications) != 0 {
		t.Fatalf("expected notifications to be drained, got %+v", page.Notifications)
	}
}

func TestHTMLFlow(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{"class":"rottenoranges","confidence":0.51}`))

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "FruitAnalyzer") {
		t.Fatalf("unexpected page %d: %s", resp.Code, resp.Body.String())
	}
	if len(env.cookies) != 1 || env.cookies[0].Name != auth.CookieName {
		t.Fatalf("expected session cookie, got %+v", env.cookies)
	}

	body, contentType := buildMultipartBody(t, "orange.png", "image/png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	resp = env.do(t, req)
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}

	resp = env.do(t, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	env.uc.Wait()

	resp = env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	html := resp.Body.String()
	for _, want := range []string{"Orange", "Rotten", "51%", "Medium", `src="data:image/png;base64,`} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected page to contain %q:\n%s", want, html)
		}
	}

	resp = env.do(t, httptest.NewRequest(http.MethodPost, "/reset", nil))
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.Code)
	}
	html = env.do(t, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	if !strings.Contains(html, "No analysis") || strings.Contains(html, `id="preview"`) {
		t.Fatalf("expected idle page after reset:\n%s", html)
	}
}

func TestHTMLUploadRejectionShowsMessage(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	body, contentType := buildMultipartBody(t, "doc.gif", "image/gif", []byte("GIF89a"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	resp := env.do(t, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "supported formats") {
		t.Fatalf("expected rejection message in page:\n%s", resp.Body.String())
	}
}

func TestMetricsDisabledWithoutHistory(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	resp := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", resp.Code, resp.Body.String())
	}
}

func TestUploadUsesFirstAcceptedFile(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, file := range []struct {
		name    string
		payload []byte
	}{
		{"notes.txt", []byte("hello")},
		{"fake.png", []byte("not really a png")},
		{"first.png", pngBytes(t)},
		{"second.png", pngBytes(t)},
	} {
		part, err := writer.CreateFormFile("file", file.name)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write(file.payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := env.do(t, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if page := decodePage(t, resp); page.Preview == nil || page.Preview.Name != "first.png" {
		t.Fatalf("expected first accepted file to be selected, got %+v", page.Preview)
	}
}

func TestUploadReportsFirstRejectionWhenNoneAccepted(t *testing.T) {
	env := newTestEnv(t, respondJSON(`{}`))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range []string{"a.gif", "b.bmp"} {
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		_, _ = part.Write([]byte("GIF89a"))
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/session/image", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := env.do(t, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	if page := decodePage(t, env.do(t, httptest.NewRequest(http.MethodGet, "/api/session", nil))); page.Preview != nil {
		t.Fatalf("expected no selection, got %+v", page.Preview)
	}
}

func TestPageHidesAnalyzeUntilPreviewReady(t *testing.T) {
	render := func(preview *view.Preview) string {
		t.Helper()
		var buf bytes.Buffer
		data := pageData{
			Page:   view.Page{Phase: usecase.PhasePreviewing, Preview: preview, Result: view.BuildResult(usecase.AnalysisResult{})},
			Accept: ".png",
			MaxMiB: 10,
		}
		if err := pageTemplate.ExecuteTemplate(&buf, "index.html", data); err != nil {
			t.Fatalf("failed to render page: %v", err)
		}
		return buf.String()
	}

	pending := render(&view.Preview{Name: "a.png", CanAnalyze: true})
	if strings.Contains(pending, `action="/analyze"`) || strings.Contains(pending, "<img") {
		t.Fatalf("analyze offered before the preview is ready:\n%s", pending)
	}
	if !strings.Contains(pending, "Loading preview") || !strings.Contains(pending, `action="/reset"`) {
		t.Fatalf("expected loading placeholder and reset:\n%s", pending)
	}

	ready := render(&view.Preview{Name: "a.png", Ready: true, DataURL: "data:image/png;base64,AA==", CanAnalyze: true})
	if !strings.Contains(ready, `action="/analyze"`) || !strings.Contains(ready, `src="data:image/png;base64,AA=="`) {
		t.Fatalf("expected preview and analyze button:\n%s", ready)
	}
}

func buildMultipartBody(t *testing.T, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
