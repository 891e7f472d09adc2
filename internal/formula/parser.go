package formula

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/ledger"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %q)", e.Position, e.Message, e.Token.Literal)
}

// Formula is a parsed expression ready for evaluation.
type Formula struct {
	Source string
	Root   Expression
}

// Parse parses src. Syntax errors, unknown functions and wrong argument
// counts fail with an INVALID_FORMULA validation error.
func Parse(src string) (*Formula, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidFormula, "", "formula is empty")
	}
	p := NewParser(src)
	root, err := p.parseExpression(precLowest)
	if err == nil && !p.curTokenIs(TokenEOF) {
		err = p.errorAt(p.curToken, "unexpected token after expression")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidFormula, "invalid formula", err)
	}
	return &Formula{Source: src, Root: root}, nil
}

// Eval evaluates the formula against l.
func (f *Formula) Eval(ctx context.Context, l *ledger.Ledger) (any, error) {
	return eval(ctx, f.Root, l)
}

// FieldRefs returns the distinct field names referenced through field(),
// in order of first appearance.
func (f *Formula) FieldRefs() []string {
	var names []string
	seen := make(map[string]bool)
	Walk(f.Root, func(e Expression) {
		if ref, ok := e.(*FieldRef); ok && !seen[ref.Name] {
			seen[ref.Name] = true
			names = append(names, ref.Name)
		}
	})
	return names
}

// String returns the canonical rendering of the formula.
func (f *Formula) String() string {
	return f.Root.String()
}

// Parser parses formulas into an expression tree.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) errorAt(tok Token, msg string) *ParseError {
	return &ParseError{Message: msg, Position: tok.Pos, Token: tok}
}

// Operator precedence levels
const (
	precLowest  = 0
	precCompare = 1
	precConcat  = 2
	precAdd     = 3
	precMul     = 4
	precUnary   = 5
)

func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe:
		return precCompare
	case TokenAmp:
		return precConcat
	case TokenPlus, TokenMinus:
		return precAdd
	case TokenStar, TokenSlash:
		return precMul
	default:
		return precLowest
	}
}

func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}

	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseBinaryExpression(left)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parsePrefixExpression() (Expression, error) {
	switch p.curToken.Type {
	case TokenIdent:
		return p.parseFunctionCall()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		lit := &Literal{Value: p.curToken.Literal}
		p.nextToken()
		return lit, nil
	case TokenTrue, TokenFalse:
		lit := &Literal{Value: p.curTokenIs(TokenTrue)}
		p.nextToken()
		return lit, nil
	case TokenNull:
		p.nextToken()
		return &Literal{Value: nil}, nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenMinus:
		p.nextToken() // Skip -
		operand, err := p.parseExpression(precUnary)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: "-", Operand: operand}, nil
	case TokenError:
		return nil, p.errorAt(p.curToken, "invalid character")
	case TokenEOF:
		return nil, p.errorAt(p.curToken, "unexpected end of formula")
	default:
		return nil, p.errorAt(p.curToken, "unexpected token in expression")
	}
}

// parseFunctionCall parses name(args...). Bare identifiers are not
// allowed; every value comes from a literal or a function.
func (p *Parser) parseFunctionCall() (Expression, error) {
	nameTok := p.curToken
	name := strings.ToLower(nameTok.Literal)
	p.nextToken()

	if !p.curTokenIs(TokenLParen) {
		return nil, p.errorAt(p.curToken, fmt.Sprintf("expected ( after %s", nameTok.Literal))
	}
	p.nextToken() // Skip (

	var args []Expression
	if !p.curTokenIs(TokenRParen) {
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorAt(p.curToken, "expected ) after function arguments")
	}
	p.nextToken()

	fn, ok := functions[name]
	if !ok {
		return nil, p.errorAt(nameTok, fmt.Sprintf("unknown function %s", nameTok.Literal))
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, p.errorAt(nameTok, fmt.Sprintf("wrong number of arguments for %s", name))
	}

	switch name {
	case "field", "get":
		lit, ok := args[0].(*Literal)
		s, isString := lit.stringValue()
		if !ok || !isString || s == "" {
			return nil, p.errorAt(nameTok, fmt.Sprintf("%s expects a non-empty string literal", name))
		}
		if name == "field" {
			return &FieldRef{Name: s}, nil
		}
		return &DataRef{Path: s}, nil
	}
	return &FunctionCall{Name: name, Args: args}, nil
}

func (l *Literal) stringValue() (string, bool) {
	if l == nil {
		return "", false
	}
	s, ok := l.Value.(string)
	return s, ok
}

func (p *Parser) parseNumber() (Expression, error) {
	tok := p.curToken
	p.nextToken()

	// Try parsing as int64 first
	if !strings.Contains(tok.Literal, ".") {
		if val, err := strconv.ParseInt(tok.Literal, 10, 64); err == nil {
			return &Literal{Value: val}, nil
		}
	}

	val, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return nil, p.errorAt(tok, "invalid number")
	}
	return &Literal{Value: val}, nil
}

func (p *Parser) parseGroupedExpression() (Expression, error) {
	p.nextToken() // Skip (

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorAt(p.curToken, "expected )")
	}
	p.nextToken()
	return expr, nil
}

func (p *Parser) parseBinaryExpression(left Expression) (Expression, error) {
	op := p.curToken.Literal
	if op == "<>" {
		op = "!="
	}
	precedence := p.getPrecedence()
	p.nextToken()

	right, err := p.parseExpression(precedence)
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Left: left, Operator: op, Right: right}, nil
}
