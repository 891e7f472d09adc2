package formula

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/ledger"
)

func evalString(t *testing.T, src string, row map[string]any) any {
	t.Helper()
	f, err := Parse(src)
	require.NoError(t, err, src)
	v, err := f.Eval(context.Background(), ledger.New(nil, ledger.NewRowProvider(row)))
	require.NoError(t, err, src)
	return v
}

func TestLexer_Tokens(t *testing.T) {
	tokens := NewLexer(`field('a') <> 1.5 & "x" <= TRUE`).Tokenize()
	var got []TokenType
	for _, tok := range tokens {
		got = append(got, tok.Type)
	}
	assert.Equal(t, []TokenType{
		TokenIdent, TokenLParen, TokenString, TokenRParen, TokenNe, TokenNumber,
		TokenAmp, TokenString, TokenLe, TokenTrue, TokenEOF,
	}, got)
}

func TestLexer_StringEscapes(t *testing.T) {
	tok := NewLexer(`'it''s a \'quote\''`).NextToken()
	assert.Equal(t, TokenString, tok.Type)
	assert.Equal(t, `it's a 'quote'`, tok.Literal)

	tok = NewLexer(`'open`).NextToken()
	assert.Equal(t, TokenError, tok.Type)
}

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"1 + 2 * 3", int64(7)},
		{"(1 + 2) * 3", int64(9)},
		{"7 / 2", 3.5},
		{"-3 + 1", int64(-2)},
		{"1.5 * 2", 3.0},
		{"'2' + 3", int64(5)},
		{"null + 1", nil},
		{"round(2.5)", int64(3)},
		{"round(-2.5)", int64(-3)},
		{"round(1.005, 2)", 1.0},
		{"round(1.25, 1)", 1.3},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.src, nil))
		})
	}
}

func TestEval_ComparisonAndLogic(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"1 = 1.0", true},
		{"1 != 2", true},
		{"1 <> 1", false},
		{"'a' < 'b'", true},
		{"2 >= 10", false},
		{"null = null", true},
		{"null < 1", false},
		{"if(1 > 0, 'yes', 'no')", "yes"},
		{"if(0, 'yes', 'no')", "no"},
		{"if(false, 'yes')", nil},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.src, nil))
		})
	}
}

func TestEval_TextFunctions(t *testing.T) {
	row := map[string]any{"Name": "Ada", "Tags": []any{"x", "y"}, "a.b": "dotted"}

	assert.Equal(t, "ADA!", evalString(t, "upper(field('Name')) & '!'", row))
	assert.Equal(t, "ada-x, y", evalString(t, "concat(lower(field('Name')), '-', field('Tags'))", row))
	assert.Equal(t, int64(3), evalString(t, "len(field('Name'))", row))
	assert.Equal(t, int64(0), evalString(t, "len(field('Missing'))", row))
	assert.Equal(t, "dotted", evalString(t, "field('a.b')", row))
}

func TestEval_IfIsLazy(t *testing.T) {
	// the untaken branch would divide by zero
	assert.Equal(t, int64(1), evalString(t, "if(true, 1, 1 / 0)", nil))
}

func TestEval_GetUsesLedger(t *testing.T) {
	reg := ledger.NewRegistry()
	require.NoError(t, reg.Register(ledger.NewMapProvider("page_parameter", map[string]any{"id": int64(42)})))

	f, err := Parse("get('page_parameter.id') + 1")
	require.NoError(t, err)
	v, err := f.Eval(context.Background(), ledger.New(reg))
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)

	f, err = Parse("get('nowhere.id')")
	require.NoError(t, err)
	_, err = f.Eval(context.Background(), ledger.New(reg))
	assert.Equal(t, errors.CodeDataProviderDoesNotExist, errors.GetCode(err))
}

func TestEval_Errors(t *testing.T) {
	for _, src := range []string{"1 / 0", "'abc' * 2", "round(1.5, 20)"} {
		f, err := Parse(src)
		require.NoError(t, err, src)
		_, err = f.Eval(context.Background(), nil)
		var ee *EvalError
		assert.True(t, errors.As(err, &ee), src)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"(1",
		"nope(1)",
		"upper()",
		"upper('a', 'b')",
		"field(1)",
		"field('')",
		"field('a' & 'b')",
		"Name",
		"1 2",
		"1 # 2",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidFormula, errors.GetCode(err))
			assert.Equal(t, errors.ErrCategoryValidation, errors.GetCategory(err))
		})
	}
}

func TestFormula_FieldRefsAndString(t *testing.T) {
	f, err := Parse("if(field('A') > 1, field('B'), field('A') & upper(field('C')))")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, f.FieldRefs())

	// the canonical rendering parses back to the same tree
	again, err := Parse(f.String())
	require.NoError(t, err)
	assert.Equal(t, f.String(), again.String())
}
