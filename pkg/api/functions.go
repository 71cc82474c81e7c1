package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

func (s *Server) functionRoutes(r chi.Router) {
	r.Post("/create", s.handleFunctionCreate)
	r.Post("/data", s.handleFunctionData)
	r.Post("/update_code", s.handleFunctionUpdateCode)
	r.Post("/delete", s.handleFunctionDelete)
	r.Post("/function_history", s.handleFunctionHistory)
	r.Post("/url", s.handleFunctionURL)
	r.Post("/proxy_test", s.handleProxyTest)
	r.Post("/templates", s.handleTemplateList)
	r.Post("/template_create", s.handleTemplateCreate)
	r.Post("/template_delete", s.handleTemplateDelete)
}

func isASCII(s string) bool {
	for _, c := range s {
		if c > 127 {
			return false
		}
	}
	return true
}

func (s *Server) handleFunctionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string `json:"appId"`
		Name       string `json:"name"`
		Type       string `json:"type"`
		TemplateID string `json:"template_id"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.Name == "" {
		fail(w, CodeValidation, "appId and name are required")
		return
	}
	ft := types.FunctionType(req.Type)
	if ft != types.FunctionEndpoint && ft != types.FunctionCommon {
		fail(w, CodeValidation, "type must be endpoint or common")
		return
	}
	// Common functions become namespace member names in user code, so they
	// must be valid identifiers.
	if ft == types.FunctionCommon && !isASCII(req.Name) {
		fail(w, CodeValidation, "common function names must be ASCII")
		return
	}
	if _, err := s.store.GetApplication(r.Context(), req.AppID); err != nil {
		failErr(w, err)
		return
	}
	if _, err := s.store.GetFunctionByName(r.Context(), req.AppID, req.Name); err == nil {
		fail(w, CodeConflict, "function name already in use")
		return
	} else if err != store.ErrNotFound {
		failErr(w, err)
		return
	}

	code, err := s.seedCode(r, req.TemplateID, ft)
	if err != nil {
		failErr(w, err)
		return
	}

	now := time.Now().UTC()
	fn := &types.Function{
		FunctionID:   types.NewShortID(8),
		FunctionName: req.Name,
		AppID:        req.AppID,
		FunctionType: ft,
		Status:       types.FunctionPublished,
		Code:         code,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if user := caller(r); user != "" {
		fn.Users = []string{user}
	}
	if err := s.store.InsertFunction(r.Context(), fn); err != nil {
		failErr(w, err)
		return
	}
	s.logger.Info().Str("app_id", req.AppID).Str("function_id", fn.FunctionID).Str("type", req.Type).Msg("function created")
	ok(w, fn)
}

// seedCode picks the new function's initial code: the requested template or
// the system default for the function type.
func (s *Server) seedCode(r *http.Request, templateID string, ft types.FunctionType) (string, error) {
	if templateID != "" {
		tpl, err := s.store.GetTemplate(r.Context(), templateID)
		if err != nil {
			return "", err
		}
		return tpl.Code, nil
	}
	tpl, err := s.store.GetDefaultTemplate(r.Context(), ft)
	if err == store.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tpl.Code, nil
}

func (s *Server) handleFunctionData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	fns, err := s.store.ListFunctions(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, fns)
}

func (s *Server) handleFunctionUpdateCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		ID    string `json:"id"`
		Code  string `json:"code"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ID == "" {
		fail(w, CodeValidation, "appId and id are required")
		return
	}
	if err := s.store.UpdateFunctionCode(r.Context(), req.AppID, req.ID, req.Code, caller(r)); err != nil {
		failErr(w, err)
		return
	}
	s.logger.Info().Str("app_id", req.AppID).Str("function_id", req.ID).Msg("function code updated")
	ok(w, nil)
}

func (s *Server) handleFunctionDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		ID    string `json:"id"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ID == "" {
		fail(w, CodeValidation, "appId and id are required")
		return
	}
	if err := s.store.DeleteFunction(r.Context(), req.AppID, req.ID); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}

func (s *Server) handleFunctionHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		ID    string `json:"id"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ID == "" {
		fail(w, CodeValidation, "appId and id are required")
		return
	}
	entries, err := s.store.ListFunctionHistory(r.Context(), req.AppID, req.ID)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, entries)
}

func (s *Server) handleFunctionURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		ID    string `json:"id"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.ID == "" {
		fail(w, CodeValidation, "appId and id are required")
		return
	}
	if _, err := s.store.GetFunction(r.Context(), req.AppID, req.ID); err != nil {
		failErr(w, err)
		return
	}
	u := fmt.Sprintf("https://%s.%s/%s", strings.ToLower(req.AppID), s.cfg.DomainName, req.ID)
	ok(w, map[string]string{"url": u})
}

// handleProxyTest performs a server-side request on the caller's behalf so
// the browser console can test functions without CORS friction. Targets are
// restricted to subdomains of the platform's own base domain.
func (s *Server) handleProxyTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetURL   string            `json:"target_url"`
		Method      string            `json:"method"`
		Headers     map[string]string `json:"headers"`
		QueryParams map[string]string `json:"query_params"`
		Body        string            `json:"body"`
	}
	if err := decode(r, &req); err != nil || req.TargetURL == "" {
		fail(w, CodeValidation, "target_url is required")
		return
	}
	target, err := url.Parse(req.TargetURL)
	if err != nil {
		fail(w, CodeValidation, "invalid target_url")
		return
	}
	host := strings.ToLower(target.Hostname())
	if !strings.HasSuffix(host, "."+strings.ToLower(s.cfg.DomainName)) {
		fail(w, CodeValidation, "target_url must point at a platform subdomain")
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if len(req.QueryParams) > 0 {
		q := target.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader = http.NoBody
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	outReq, err := http.NewRequestWithContext(r.Context(), strings.ToUpper(req.Method), target.String(), body)
	if err != nil {
		fail(w, CodeValidation, "invalid request")
		return
	}
	for k, v := range req.Headers {
		outReq.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(outReq)
	if err != nil {
		fail(w, CodeInternal, "proxy request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		fail(w, CodeInternal, "failed to read upstream response")
		return
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	ok(w, map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(data),
	})
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, CodeValidation, "invalid request body")
		return
	}
	tpls, err := s.store.ListTemplates(r.Context(), req.AppID)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, tpls)
}

func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID string `json:"appId"`
		Name  string `json:"name"`
		Type  string `json:"function_type"`
		Code  string `json:"code"`
	}
	if err := decode(r, &req); err != nil || req.AppID == "" || req.Name == "" {
		fail(w, CodeValidation, "appId and name are required")
		return
	}
	ft := types.FunctionType(req.Type)
	if ft != types.FunctionEndpoint && ft != types.FunctionCommon {
		fail(w, CodeValidation, "function_type must be endpoint or common")
		return
	}
	now := time.Now().UTC()
	tpl := &types.FunctionTemplate{
		TemplateID:   types.NewShortID(8),
		AppID:        req.AppID,
		Name:         req.Name,
		Kind:         types.TemplateUser,
		FunctionType: ft,
		Code:         req.Code,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertTemplate(r.Context(), tpl); err != nil {
		failErr(w, err)
		return
	}
	ok(w, tpl)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID string `json:"template_id"`
	}
	if err := decode(r, &req); err != nil || req.TemplateID == "" {
		fail(w, CodeValidation, "template_id is required")
		return
	}
	tpl, err := s.store.GetTemplate(r.Context(), req.TemplateID)
	if err != nil {
		failErr(w, err)
		return
	}
	if tpl.Kind == types.TemplateSystem {
		fail(w, CodeValidation, "system templates cannot be deleted")
		return
	}
	if err := s.store.DeleteTemplate(r.Context(), req.TemplateID); err != nil {
		failErr(w, err)
		return
	}
	ok(w, nil)
}
