package profile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_KeepsOrder(t *testing.T) {
	p, err := ParseJSON([]byte(`{"name":"Ada","employer":"Analytical Engines","email":"ada@example.com"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "employer", "email"}, p.Keys())
}

func TestParseJSON_Rejects(t *testing.T) {
	testcases := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "null", input: "null"},
		{name: "array", input: `[{"a":1}]`},
		{name: "string", input: `"hello"`},
		{name: "unquoted-keys", input: `{bad json}`},
		{name: "trailing-garbage", input: `{"a":1} extra`},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tc.input))
			assert.True(t, errors.Is(err, ErrCorrupt), "want ErrCorrupt, got %v", err)
		})
	}
}

func TestMerge_Semantics(t *testing.T) {
	p := New()
	p.Set("a", 1)
	p.Set("b", 2)

	update := New()
	update.Set("b", 3)
	update.Set("c", 4)

	p.Merge(update)

	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, p.ToMap())
	assert.Equal(t, []string{"a", "b", "c"}, p.Keys(), "existing keys keep position, new keys are appended")
}

func TestMerge_NilAndEmpty(t *testing.T) {
	p := FromMap(map[string]any{"a": "x"})
	p.Merge(nil)
	p.Merge(New())

	assert.Equal(t, map[string]any{"a": "x"}, p.ToMap())
}

func TestMarshalJSON_NoHTMLEscapingAndUnicode(t *testing.T) {
	p := New()
	p.Set("name", "Zoë <Z> & co")
	p.Set("city", "東京")

	b, err := json.Marshal(p)
	require.NoError(t, err)

	assert.Equal(t, `{"name":"Zoë <Z> & co","city":"東京"}`, string(b))
}

func TestMarshalJSON_EmptyAndNil(t *testing.T) {
	b, err := New().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	var p *Profile
	assert.Equal(t, 0, p.Len())
	assert.True(t, p.IsEmpty())
}

func TestIndent(t *testing.T) {
	p := New()
	p.Set("name", "Ada")
	p.Set("age", 36)

	b, err := p.Indent()
	require.NoError(t, err)

	assert.Equal(t, "{\n  \"name\": \"Ada\",\n  \"age\": 36\n}\n", string(b))
}

func TestParseYAML(t *testing.T) {
	p, err := ParseYAML([]byte("name: Ada\nphone: \"555-0100\"\nage: 36\nremote: true\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "phone", "age", "remote"}, p.Keys())
	assert.Equal(t, "555-0100", p.GetString("phone"))
	v, _ := p.Get("remote")
	assert.Equal(t, true, v)
}

func TestParseYAML_Rejects(t *testing.T) {
	for _, input := range []string{"", "- a\n- b\n", "just a string", "name: [unclosed", "score: .inf\n", "score: .nan\n", "nested:\n  deep: [1, -.inf]\n"} {
		_, err := ParseYAML([]byte(input))
		assert.ErrorIs(t, err, ErrCorrupt, "input %q", input)
	}
}

func TestGetString(t *testing.T) {
	p := FromMap(map[string]any{"name": "Ada", "age": 36.0})

	assert.Equal(t, "Ada", p.GetString("name"))
	assert.Equal(t, "", p.GetString("age"))
	assert.Equal(t, "", p.GetString("missing"))
}

func TestParseYAML_NestedKeysBecomeStrings(t *testing.T) {
	p, err := ParseYAML([]byte("meta:\n  1: one\n  nested:\n    2: two\n"))
	require.NoError(t, err)

	meta, _ := p.Get("meta")
	assert.Equal(t, map[string]any{"1": "one", "nested": map[string]any{"2": "two"}}, meta)

	_, err = p.Indent()
	assert.NoError(t, err)
}
