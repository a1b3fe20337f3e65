package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arc-self/apps/adrelay-service/internal/expr"
)

type fakeResolver map[string]string

func (f fakeResolver) Get(path string) (string, bool) {
	v, ok := f[path]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func TestRenderURL_IdentityMacros(t *testing.T) {
	ctx := expr.Context{}
	out := RenderURL("https://up.example/track?x={{x}}", map[string]string{"x": "const:x"}, ctx)
	assert.Equal(t, "https://up.example/track?x=x", out)
}

func TestRenderURL_MissingMacroIsEmpty(t *testing.T) {
	ctx := expr.Context{}
	out := RenderURL("https://up.example/track?x={{x}}&y={{y}}", map[string]string{"x": "const:x"}, ctx)
	assert.Equal(t, "https://up.example/track?x=x&y=", out)
}

func TestRenderURL_NullMacroBecomesEmpty(t *testing.T) {
	ctx := expr.Context{UDM: fakeResolver{}}
	out := RenderURL("cid={{cid}}", map[string]string{"cid": "click.id"}, ctx)
	assert.Equal(t, "cid=", out)
}

func TestEvalBodyTemplate_RecursiveStrings(t *testing.T) {
	ctx := expr.Context{UDM: fakeResolver{"ad.ad_id": "a1"}}
	tree := map[string]interface{}{
		"ad":     "ad.ad_id",
		"static": 42,
		"nested": map[string]interface{}{
			"x": []interface{}{"const:hi", 7},
		},
	}
	out := EvalBodyTemplate(tree, ctx).(map[string]interface{})
	assert.Equal(t, "a1", out["ad"])
	assert.Equal(t, 42, out["static"])
	nested := out["nested"].(map[string]interface{})
	arr := nested["x"].([]interface{})
	assert.Equal(t, "hi", arr[0])
	assert.Equal(t, 7, arr[1])
}
