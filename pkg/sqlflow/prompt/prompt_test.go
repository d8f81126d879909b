package prompt_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/prompt"
)

func TestRender(t *testing.T) {
	tmpl := prompt.MustParse("greet", "Dialect ${dialect}; schema:\n${schema}\nAgain ${dialect}")
	assert.Equal(t, []string{"dialect", "schema"}, tmpl.Fields())

	out, err := tmpl.Render(prompt.Vars{"dialect": "sqlite", "schema": "CREATE TABLE t (x INT)", "extra": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "Dialect sqlite; schema:\nCREATE TABLE t (x INT)\nAgain sqlite", out)
}

func TestRender_ValuesAreNotReexpanded(t *testing.T) {
	tmpl := prompt.MustParse("q", "Q: ${question}")
	out, err := tmpl.Render(prompt.Vars{"question": "what is ${secret} and $HOME?"})
	require.NoError(t, err)
	assert.Equal(t, "Q: what is ${secret} and $HOME?", out)
}

func TestRender_Missing(t *testing.T) {
	tmpl := prompt.MustParse("plan", "${a} ${b}")
	_, err := tmpl.Render(prompt.Vars{"a": "1"})

	var undef *prompt.UndefinedVariableError
	require.True(t, errors.As(err, &undef))
	assert.Equal(t, []string{"b"}, undef.Names)
	assert.Equal(t, "prompt plan: undefined variable: b", err.Error())

	assert.Panics(t, func() { tmpl.MustRender(nil) })
}

func TestParse_Empty(t *testing.T) {
	_, err := prompt.Parse("blank", "  \n")
	assert.Error(t, err)
	assert.Panics(t, func() { prompt.MustParse("blank", "") })
}

func TestRender_LiteralDollar(t *testing.T) {
	tmpl := prompt.MustParse("money", "Costs $5 and ${amount}")
	assert.Equal(t, "Costs $5 and 7", tmpl.MustRender(prompt.Vars{"amount": "7"}))
	assert.Equal(t, "money", tmpl.Name())
}
