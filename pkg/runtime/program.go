package runtime

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/hyac-dev/hyac/pkg/types"
)

// Artifact is a compiled function. The goja program is immutable and safe to
// share; every invocation runs it in a fresh VM.
type Artifact struct {
	Function *types.Function
	Program  *goja.Program
	Params   []string
}

// Compile turns a function's source into an artifact. The parameter list
// comes from the function's declared handler_params when present; otherwise
// the compiled handler is introspected once and the result travels with the
// artifact.
func Compile(fn *types.Function) (*Artifact, error) {
	program, err := goja.Compile(fn.FunctionID+".js", fn.Code, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", fn.FunctionID, err)
	}
	art := &Artifact{Function: fn, Program: program}
	if fn.FunctionType == types.FunctionCommon {
		// Common modules export globals instead of a handler.
		return art, nil
	}
	if len(fn.HandlerParams) > 0 {
		art.Params = fn.HandlerParams
		return art, nil
	}
	params, err := introspectParams(program)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", fn.FunctionID, err)
	}
	art.Params = params
	return art, nil
}

var paramListRe = regexp.MustCompile(`^\s*(?:async\s+)?(?:function[^(]*)?\(([^)]*)\)`)

// introspectParams runs the program in a throwaway VM and parses the
// handler's parameter names out of its source form.
func introspectParams(program *goja.Program) ([]string, error) {
	vm := goja.New()
	if _, err := vm.RunProgram(program); err != nil {
		return nil, err
	}
	handler := vm.Get("handler")
	if handler == nil || goja.IsUndefined(handler) || goja.IsNull(handler) {
		return nil, fmt.Errorf("no handler function defined")
	}
	if _, isFn := goja.AssertFunction(handler); !isFn {
		return nil, fmt.Errorf("handler is not a function")
	}
	src := handler.ToString().String()
	m := paramListRe.FindStringSubmatch(src)
	if m == nil {
		// Arrow function with a single bare parameter.
		if idx := strings.Index(src, "=>"); idx > 0 {
			name := strings.TrimSpace(src[:idx])
			if name != "" && !strings.Contains(name, "(") {
				return []string{name}, nil
			}
		}
		return nil, nil
	}
	raw := strings.Split(m[1], ",")
	params := make([]string, 0, len(raw))
	for _, p := range raw {
		name := strings.TrimSpace(p)
		if name == "" {
			continue
		}
		// Strip default values; destructuring is not supported.
		if idx := strings.Index(name, "="); idx > 0 {
			name = strings.TrimSpace(name[:idx])
		}
		params = append(params, name)
	}
	return params, nil
}
