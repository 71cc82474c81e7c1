package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/notify"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

const testAppID = "abcdefgh"

func newTestDispatcher(t *testing.T, mem *store.Memory) *Dispatcher {
	t.Helper()
	ctx := context.Background()
	app := &types.Application{AppID: testAppID, AppName: "demo", Status: types.AppStatusRunning}
	require.NoError(t, mem.InsertApplication(ctx, app))

	sink := log.NewSink(mem, types.LogFunction)
	caps := &Capabilities{
		store:    mem,
		notifier: notify.New(),
		sink:     sink,
		env:      NewEnvManager(mem, testAppID),
		app:      func() *types.Application { return app },
	}
	loader := NewLoader(mem, NewCache(16, time.Minute), testAppID)
	return NewDispatcher(loader, caps, mem, sink, testAppID)
}

func publishEndpoint(t *testing.T, mem *store.Memory, functionID, code string) {
	t.Helper()
	require.NoError(t, mem.InsertFunction(context.Background(), &types.Function{
		FunctionID:   functionID,
		FunctionName: functionID,
		AppID:        testAppID,
		FunctionType: types.FunctionEndpoint,
		Status:       types.FunctionPublished,
		Code:         code,
	}))
}

// TestDispatchBindsJSONBody tests named parameter binding from a JSON body
func TestDispatchBindsJSONBody(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "sum", `function handler(a, b) { return {sum: a + b}; }`)

	req := httptest.NewRequest(http.MethodPost, "/sum", strings.NewReader(`{"a":2,"b":3}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(5), out["sum"])
}

// TestDispatchBindsFormBody tests named parameter binding from a urlencoded
// form. Form values arrive as strings.
func TestDispatchBindsFormBody(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "concat", `function handler(a, b) { return a + b; }`)

	req := httptest.NewRequest(http.MethodPost, "/concat", strings.NewReader("a=2&b=3"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "23", rec.Body.String())
}

// TestDispatchBindsMultipartBody tests named parameter binding from a
// multipart form.
func TestDispatchBindsMultipartBody(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "greet", `function handler(name) { return "hello " + name; }`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "world"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/greet", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello world", rec.Body.String())
}

// TestDispatchFormOverridesQuery tests precedence when a name appears in
// both the query string and the body.
func TestDispatchFormOverridesQuery(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "pick", `function handler(v) { return v; }`)

	req := httptest.NewRequest(http.MethodPost, "/pick?v=query", strings.NewReader("v=body"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "body", rec.Body.String())
}

// TestDispatchRawBodyParam tests that a declared body parameter receives the
// unparsed bytes regardless of content type.
func TestDispatchRawBodyParam(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "raw", `function handler(body) { return "got:" + body; }`)

	req := httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader("plain payload"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "got:plain payload", rec.Body.String())
}

// TestDispatchBindsQueryParams tests binding from the query string. Query
// values arrive as strings.
func TestDispatchBindsQueryParams(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "greet", `function handler(name) { return "hello " + name; }`)

	req := httptest.NewRequest(http.MethodGet, "/greet?name=world", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "hello world", rec.Body.String())
}

// TestDispatchContextParam tests the injected context object
func TestDispatchContextParam(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "whoami", `function handler(context) { return {app: context.app_id, fn: context.func_id}; }`)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, testAppID, out["app"])
	assert.Equal(t, "whoami", out["fn"])
}

// TestDispatchCommonFunctions tests that published common modules are
// reachable through context.common.
func TestDispatchCommonFunctions(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	require.NoError(t, mem.InsertFunction(context.Background(), &types.Function{
		FunctionID:   "common1",
		FunctionName: "mathutil",
		AppID:        testAppID,
		FunctionType: types.FunctionCommon,
		Status:       types.FunctionPublished,
		Code:         `function add(a, b) { return a + b; }`,
	}))
	publishEndpoint(t, mem, "calc", `function handler(context) { return {out: context.common.mathutil.add(2, 3)}; }`)

	req := httptest.NewRequest(http.MethodGet, "/calc", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(5), out["out"])
}

// TestDispatchRequestParam tests the injected request object
func TestDispatchRequestParam(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "echo", `function handler(request) { return {method: request.method, q: request.query.x}; }`)

	req := httptest.NewRequest(http.MethodPost, "/echo?x=1", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "POST", out["method"])
	assert.Equal(t, "1", out["q"])
}

// TestDispatchUnknownFunction tests the 404 path
func TestDispatchUnknownFunction(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)

	req := httptest.NewRequest(http.MethodGet, "/nosuchfn", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestDispatchUnpublishedFunction tests that unpublished code is not served
func TestDispatchUnpublishedFunction(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	require.NoError(t, mem.InsertFunction(context.Background(), &types.Function{
		FunctionID:   "draft",
		FunctionName: "draft",
		AppID:        testAppID,
		FunctionType: types.FunctionEndpoint,
		Status:       types.FunctionUnpublished,
		Code:         `function handler() { return 1; }`,
	}))

	req := httptest.NewRequest(http.MethodGet, "/draft", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestDispatchHandlerException tests that a thrown error surfaces as 500
func TestDispatchHandlerException(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "boom", `function handler() { throw new Error("boom"); }`)

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

// TestDispatchNullResult tests the empty response mapping
func TestDispatchNullResult(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "void", `function handler() { return null; }`)

	req := httptest.NewRequest(http.MethodGet, "/void", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// TestDispatchInvalidJSONBody tests the caller error path
func TestDispatchInvalidJSONBody(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)
	publishEndpoint(t, mem, "sum", `function handler(a) { return a; }`)

	req := httptest.NewRequest(http.MethodPost, "/sum", strings.NewReader(`{broken`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestErrorExtraClassifiesFailures tests the metric error taxonomy
func TestErrorExtraClassifiesFailures(t *testing.T) {
	vm := goja.New()
	_, thrown := vm.RunString(`throw new Error("boom")`)
	require.Error(t, thrown)
	assert.Equal(t, "handler_exception", errorExtra(thrown)["type"])

	vm = goja.New()
	vm.Interrupt("handler timeout")
	_, interrupted := vm.RunString(`for (;;) {}`)
	require.Error(t, interrupted)
	assert.Equal(t, "timeout", errorExtra(interrupted)["type"])

	extra := errorExtra(errors.New("feed unavailable"))
	assert.Equal(t, "internal", extra["type"])
	assert.Equal(t, "feed unavailable", extra["detail"])
}

// TestDispatchFavicon tests that browser noise is answered quietly
func TestDispatchFavicon(t *testing.T) {
	mem := store.NewMemory()
	d := newTestDispatcher(t, mem)

	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
