package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

const defaultHandlerTimeout = 30 * time.Second

// Dispatcher serves every request against the app's function ids: the first
// path segment names the function, query and body bind to the handler's
// declared parameters, the returned value maps onto the HTTP response.
type Dispatcher struct {
	loader *Loader
	caps   *Capabilities
	store  store.Store
	sink   *log.Sink
	appID  string
	logger zerolog.Logger
}

// NewDispatcher creates the catch-all function dispatcher
func NewDispatcher(loader *Loader, caps *Capabilities, st store.Store, sink *log.Sink, appID string) *Dispatcher {
	return &Dispatcher{
		loader: loader,
		caps:   caps,
		store:  st,
		sink:   sink,
		appID:  appID,
		logger: log.WithComponent("dispatch"),
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	if path == "favicon.ico" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	functionID := path
	if idx := strings.Index(path, "/"); idx > 0 {
		functionID = path[:idx]
	}
	if functionID == "" {
		http.Error(w, "function id required", http.StatusNotFound)
		return
	}

	art, err := d.loader.LoadEndpoint(r.Context(), functionID)
	if err == ErrFunctionNotFound {
		http.Error(w, "function not found", http.StatusNotFound)
		return
	}
	if err != nil {
		d.logger.Error().Err(err).Str("function_id", functionID).Msg("failed to load function")
		http.Error(w, fmt.Sprintf("failed to load module %s: %v", MakeKey(d.appID, functionID), err), http.StatusInternalServerError)
		return
	}

	args, rawBody, err := d.bindArguments(r)
	if err != nil {
		d.recordMetric(art.Function, types.CallError, 0, map[string]interface{}{
			"type":   "bad_request",
			"detail": err.Error(),
		})
		metrics.FunctionInvocationsTotal.WithLabelValues(string(types.CallError)).Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	timer := metrics.NewTimer()
	started := time.Now()
	result, console, invokeErr := d.invoke(r, art, args, rawBody)
	elapsed := time.Since(started)
	timer.ObserveDuration(metrics.FunctionDuration)

	for _, line := range console {
		d.sink.Emit("info", line, d.appID, functionID, art.Function.FunctionName, nil)
	}

	status := types.CallSuccess
	var extra map[string]interface{}
	if invokeErr != nil {
		status = types.CallError
		extra = errorExtra(invokeErr)
	}
	d.recordMetric(art.Function, status, elapsed, extra)
	metrics.FunctionInvocationsTotal.WithLabelValues(string(status)).Inc()

	if invokeErr != nil {
		d.sink.Error(invokeErr.Error(), d.appID, functionID, art.Function.FunctionName)
		http.Error(w, invokeErr.Error(), http.StatusInternalServerError)
		return
	}
	writeResult(w, result)
}

// bindArguments merges query parameters with the decoded body. JSON, form
// and multipart bodies resolve into named handler parameters, body fields
// winning over query; a malformed body is the caller's error. The raw bytes
// are kept for handlers that declare a body parameter.
func (d *Dispatcher) bindArguments(r *http.Request) (map[string]interface{}, []byte, error) {
	merged := make(map[string]interface{})
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			merged[key] = values[0]
		}
	}
	var rawBody []byte
	if r.Body != nil {
		defer r.Body.Close()
		data, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read request body")
		}
		rawBody = data
	}
	if len(rawBody) == 0 {
		return merged, rawBody, nil
	}

	mediaType, mediaParams, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]interface{}
		if err := json.Unmarshal(rawBody, &body); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON body")
		}
		for key, value := range body {
			merged[key] = value
		}
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(rawBody))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid form body")
		}
		for key, values := range form {
			if len(values) > 0 {
				merged[key] = values[0]
			}
		}
	case "multipart/form-data":
		boundary := mediaParams["boundary"]
		if boundary == "" {
			return nil, nil, fmt.Errorf("invalid multipart body")
		}
		form, err := multipart.NewReader(bytes.NewReader(rawBody), boundary).ReadForm(10 << 20)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid multipart body")
		}
		defer form.RemoveAll()
		for key, values := range form.Value {
			if len(values) > 0 {
				merged[key] = values[0]
			}
		}
	}
	return merged, rawBody, nil
}

// errorExtra classifies an invocation failure for the function metric:
// interrupts are timeouts, thrown JS values are handler exceptions, anything
// else is an internal fault.
func errorExtra(err error) map[string]interface{} {
	var (
		interrupted *goja.InterruptedError
		thrown      *goja.Exception
	)
	kind := "internal"
	switch {
	case errors.As(err, &interrupted):
		kind = "timeout"
	case errors.As(err, &thrown):
		kind = "handler_exception"
	}
	return map[string]interface{}{"type": kind, "detail": err.Error()}
}

// invoke runs the compiled program in a fresh VM and calls its handler
func (d *Dispatcher) invoke(r *http.Request, art *Artifact, merged map[string]interface{}, rawBody []byte) (goja.Value, []string, error) {
	vm := goja.New()

	var console []string
	capture := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		console = append(console, strings.Join(parts, " "))
		return goja.Undefined()
	}
	consoleObj := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error"} {
		consoleObj.Set(name, capture)
	}
	vm.Set("console", consoleObj)

	commons, err := d.loader.LoadCommons(r.Context())
	if err != nil {
		return nil, console, err
	}
	ctxObj, err := d.caps.buildContext(vm, r.Context(), art.Function.FunctionID, commons)
	if err != nil {
		return nil, console, err
	}
	reqObj := requestObject(vm, r)

	timeout := defaultHandlerTimeout
	if art.Function.Timeout > 0 {
		timeout = time.Duration(art.Function.Timeout) * time.Second
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("handler timeout")
	})
	defer timer.Stop()

	if _, err := vm.RunProgram(art.Program); err != nil {
		return nil, console, err
	}
	handlerVal := vm.Get("handler")
	if handlerVal == nil || goja.IsUndefined(handlerVal) {
		return nil, console, fmt.Errorf("no handler function defined")
	}
	handler, isFn := goja.AssertFunction(handlerVal)
	if !isFn {
		return nil, console, fmt.Errorf("handler is not a function")
	}

	args := make([]goja.Value, 0, len(art.Params))
	for _, param := range art.Params {
		switch param {
		case "context", "ctx":
			args = append(args, ctxObj)
		case "request", "req":
			args = append(args, reqObj)
		case "body":
			args = append(args, vm.ToValue(string(rawBody)))
		default:
			if v, found := merged[param]; found {
				args = append(args, vm.ToValue(v))
			} else {
				args = append(args, goja.Undefined())
			}
		}
	}

	result, err := handler(goja.Undefined(), args...)
	if err != nil {
		return nil, console, err
	}
	return result, console, nil
}

// requestObject exposes the request's shape to handler code
func requestObject(vm *goja.Runtime, r *http.Request) *goja.Object {
	obj := vm.NewObject()
	obj.Set("method", r.Method)
	obj.Set("path", r.URL.Path)
	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}
	obj.Set("headers", headers)
	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	obj.Set("query", query)
	return obj
}

// writeResult maps the handler's return value onto the HTTP response:
// nothing yields 204, strings are text, binary buffers are octet-stream,
// everything else serializes to JSON.
func writeResult(w http.ResponseWriter, result goja.Value) {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	switch exported := result.Export().(type) {
	case string:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, exported)
	case goja.ArrayBuffer:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(exported.Bytes())
	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(exported)
	default:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(exported); err != nil {
			log.Logger.Warn().Err(err).Msg("failed to encode handler result")
		}
	}
}

// recordMetric persists one invocation record in the background
func (d *Dispatcher) recordMetric(fn *types.Function, status types.CallStatus, elapsed time.Duration, extra map[string]interface{}) {
	metric := &types.FunctionMetric{
		FunctionID:    fn.FunctionID,
		FunctionName:  fn.FunctionName,
		AppID:         d.appID,
		Status:        status,
		ExecutionTime: elapsed.Seconds(),
		Timestamp:     time.Now().UTC(),
		Extra:         extra,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.store.InsertFunctionMetric(ctx, metric); err != nil {
			d.logger.Warn().Err(err).Str("function_id", fn.FunctionID).Msg("failed to record metric")
		}
	}()
}
