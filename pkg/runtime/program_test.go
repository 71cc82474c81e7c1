package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/types"
)

func endpointFn(code string) *types.Function {
	return &types.Function{
		FunctionID:   "fn1",
		FunctionName: "fn1",
		AppID:        "app1",
		FunctionType: types.FunctionEndpoint,
		Status:       types.FunctionPublished,
		Code:         code,
	}
}

// TestCompileIntrospectsParams tests parameter discovery from handler source
func TestCompileIntrospectsParams(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "plain function",
			code: `function handler(a, b) { return a + b; }`,
			want: []string{"a", "b"},
		},
		{
			name: "no parameters",
			code: `function handler() { return 1; }`,
			want: nil,
		},
		{
			name: "async function",
			code: `async function handler(context, body) { return body; }`,
			want: []string{"context", "body"},
		},
		{
			name: "arrow function",
			code: `const handler = (x, y) => x * y;`,
			want: []string{"x", "y"},
		},
		{
			name: "arrow single bare param",
			code: `const handler = name => "hi " + name;`,
			want: []string{"name"},
		},
		{
			name: "default values stripped",
			code: `function handler(a, limit = 10) { return limit; }`,
			want: []string{"a", "limit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, err := Compile(endpointFn(tt.code))
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, art.Params)
			} else {
				assert.Equal(t, tt.want, art.Params)
			}
		})
	}
}

// TestCompileUsesDeclaredParams tests that declared metadata wins over
// introspection.
func TestCompileUsesDeclaredParams(t *testing.T) {
	fn := endpointFn(`function handler(a, b) { return a; }`)
	fn.HandlerParams = []string{"context", "body"}

	art, err := Compile(fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"context", "body"}, art.Params)
}

// TestCompileErrors tests the failure modes
func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{name: "syntax error", code: `function handler( {`},
		{name: "no handler", code: `function other() {}`},
		{name: "handler not a function", code: `const handler = 42;`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(endpointFn(tt.code))
			assert.Error(t, err)
		})
	}
}

// TestProgramIsReusable tests that one compiled program runs in many VMs
func TestProgramIsReusable(t *testing.T) {
	art, err := Compile(endpointFn(`function handler(n) { return n + 1; }`))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		params, err := introspectParams(art.Program)
		require.NoError(t, err)
		assert.Equal(t, []string{"n"}, params)
	}
}
