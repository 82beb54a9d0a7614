package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	ctx := map[string]any{
		"deal": map[string]any{
			"name":   "Acme",
			"amount": float64(1200),
			"open":   true,
		},
		"owner": "sam",
	}

	tests := []struct {
		name string
		tmpl string
		ctx  map[string]any
		want string
	}{
		{"simple path", "Hello {{deal.name}}", ctx, "Hello Acme"},
		{"top level key", "to: {{owner}}", ctx, "to: sam"},
		{"missing path", "Hello {{deal.name}}", map[string]any{}, "Hello "},
		{"missing segment", "{{deal.owner.email}}", ctx, ""},
		{"traversal through scalar", "{{owner.name}}", ctx, ""},
		{"number stringified", "amount={{deal.amount}}", ctx, "amount=1200"},
		{"bool stringified", "open={{deal.open}}", ctx, "open=true"},
		{"object leaf renders empty", "d={{deal}}", ctx, "d="},
		{"multiple tokens", "{{deal.name}} / {{owner}}", ctx, "Acme / sam"},
		{"whitespace in token", "Hello {{ deal.name }}", ctx, "Hello Acme"},
		{"nil context", "Hello {{deal.name}}", nil, "Hello "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, tt.ctx))
		})
	}
}

func TestRenderIdentityWithoutTokens(t *testing.T) {
	ctx := map[string]any{"deal": map[string]any{"name": "Acme"}}
	for _, s := range []string{
		"",
		"plain text",
		"almost {a.token}",
		"single brace { deal.name }",
		"unterminated {{deal.name",
	} {
		assert.Equal(t, s, Render(s, ctx))
	}
}

func TestRenderSinglePass(t *testing.T) {
	// A rendered value containing token syntax must not be expanded again.
	ctx := map[string]any{
		"a": "{{b}}",
		"b": "secret",
	}
	assert.Equal(t, "{{b}}", Render("{{a}}", ctx))
}
