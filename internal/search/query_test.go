package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		expr     string
		includes []string
		excludes []string
	}{
		{"", nil, nil},
		{"foo bar", []string{"foo", "bar"}, nil},
		{"foo -bar", []string{"foo"}, []string{"bar"}},
		{"foo bar!", []string{"foo"}, []string{"bar"}},
		{"+foo", []string{"foo"}, nil},
		{`"hello world" x`, []string{"hello world", "x"}, nil},
		{`-"hello world"`, nil, []string{"hello world"}},
		{`"wow!"`, []string{"wow!"}, nil},
		{"  spaced   out  ", []string{"spaced", "out"}, nil},
		{"- !", []string{"-", "!"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			includes, excludes := Tokenize(tt.expr)
			assert.Equal(t, tt.includes, includes)
			assert.Equal(t, tt.excludes, excludes)
		})
	}
}

func TestCompileTerms(t *testing.T) {
	q, err := Compile(`age>30 -role:manager error "two words" -debug`)
	require.NoError(t, err)

	terms := q.Terms()
	assert.Equal(t, []string{"error", "two words"}, terms.Includes)
	assert.Equal(t, []string{"debug"}, terms.Excludes)
	assert.Equal(t, []Condition{{Field: "age", Operator: OpGt, Value: "30"}}, terms.Conditions)
	assert.Equal(t, []Condition{{Field: "role", Operator: OpColon, Value: "manager"}}, terms.Negated)
	assert.False(t, q.Empty())
}

func TestCompileRejectsUnknownOperator(t *testing.T) {
	for _, expr := range []string{"age=>3", "a<>b", "x:=1", "n!!2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Compile(expr)
			assert.ErrorIs(t, err, ErrUnknownOperator)
		})
	}
}

func TestBlankQueryMatchesEverything(t *testing.T) {
	for _, expr := range []string{"", "   ", "\t"} {
		q := MustCompile(expr)
		assert.True(t, q.Empty())
		assert.True(t, q.Match(nil))
		assert.True(t, q.Match(map[string]any{"a": 1}))
	}
}

func TestMatchFreeText(t *testing.T) {
	tests := []struct {
		expr string
		item any
		want bool
	}{
		{"error", "An ERROR occurred", true},
		{"error", "all good", false},
		{"error timeout", "error: timeout", true},
		{"error timeout", "error: refused", false},
		{"err*out", "error: timeout", true},
		{"a.c", "abc", false},
		{"a.c", "a.c", true},
		{"-debug", "info line", true},
		{"-debug", "DEBUG line", false},
		{"-debug -trace", "trace line", false},
		{"error!", "error", false},
		{`"disk full"`, "alert: disk full on /", true},
		{`"disk full"`, "disk is full", false},
		{"alice", map[string]any{"name": "Alice", "age": 30}, true},
		{"30", map[string]any{"name": "Alice", "age": 30}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			q, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Match(tt.item), "item %v", tt.item)
		})
	}
}

func TestMatchConditions(t *testing.T) {
	row := map[string]any{"name": "bob", "age": 41, "role": "manager", "score": "7.5", "code": "9"}
	tests := []struct {
		expr string
		want bool
	}{
		{"age>30", true},
		{"age>41", false},
		{"age>=41", true},
		{"age<=41", true},
		{"age<41", false},
		{"age=41", true},
		{"age==41", true},
		{"age!=41", false},
		{"role:manager", true},
		{"role:Manager", false},
		{"role:man", false},
		{"-role:manager", false},
		{"-role:dev", true},
		{"score>7", true},
		{"score<10", true},
		{"name>alice", true},
		{"code>1a", true},
		{"code<10", true},
		{"missing:x", false},
		{"missing!=x", true},
		{"missing>0", false},
		{"missing<0", false},
		{"age>30 -role:manager", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			q, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Match(row))
		})
	}
}

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestMatchStructsAndJSON(t *testing.T) {
	q := MustCompile("age>=18 name:ann")
	assert.True(t, q.Match(person{Name: "ann", Age: 20}))
	assert.True(t, q.Match(&person{Name: "ann", Age: 18}))
	assert.False(t, q.Match(person{Name: "ann", Age: 17}))
	assert.True(t, q.Match(`{"name":"ann","age":33}`))
	assert.False(t, q.Match(`{"name":"bo","age":33}`))
}

func TestSerialize(t *testing.T) {
	assert.Equal(t, "plain", Serialize("plain"))
	assert.Contains(t, Serialize(map[string]any{"a": "x", "b": 2}), "x")
	assert.Contains(t, Serialize(map[string]any{"a": "x", "b": 2}), "2")
}

func TestQueryString(t *testing.T) {
	assert.Equal(t, "a -b", MustCompile("a -b").String())
	assert.Panics(t, func() { MustCompile("a=>b") })
}
