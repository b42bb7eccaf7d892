package executor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	contractx "github.com/pattarawat/steward/agent/contract"
)

// Accepts digits, whitespace, decimal points, operators, and parentheses.
var mathExpressionPattern = regexp.MustCompile(`^[\d\s\+\-\*/%\^\(\)\.]+$`)

type MathOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

type mathExecutor struct{}

func newMathExecutor() *mathExecutor {
	return &mathExecutor{}
}

func (e *mathExecutor) Name() string {
	return ExecutorMathEvaluate
}

func (e *mathExecutor) Invoke(_ context.Context, inv contractx.Invocation) (any, error) {
	raw, ok := inv.Args["expression"]
	if !ok {
		return nil, fmt.Errorf("%w: expression is required", contractx.ErrValidation)
	}
	expression, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: expression must be a string", contractx.ErrValidation)
	}

	expression = strings.TrimSpace(expression)
	if err := validateExpression(expression); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	result, err := evaluateExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrExecutor, err)
	}

	return MathOutput{Expression: expression, Result: result}, nil
}

func validateExpression(expression string) error {
	if expression == "" {
		return fmt.Errorf("expression is empty")
	}
	if !mathExpressionPattern.MatchString(expression) {
		return fmt.Errorf("expression contains invalid characters")
	}

	balance := 0
	for _, ch := range expression {
		switch ch {
		case '(':
			balance++
		case ')':
			balance--
			if balance < 0 {
				return fmt.Errorf("expression has unbalanced parentheses")
			}
		}
	}
	if balance != 0 {
		return fmt.Errorf("expression has unbalanced parentheses")
	}
	return nil
}

func evaluateExpression(expression string) (float64, error) {
	p := &exprParser{input: expression}
	value, err := p.parseBinary(1)
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.hasNext() {
		return 0, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func operatorPrecedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/', '%':
		return 2
	case '^':
		return 3
	default:
		return 0
	}
}

// parseBinary is a precedence climber; '^' binds right-associatively.
func (p *exprParser) parseBinary(minPrec int) (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	for {
		p.skipSpaces()
		if !p.hasNext() {
			return left, nil
		}
		op := p.peek()
		prec := operatorPrecedence(op)
		if prec < minPrec || prec == 0 {
			return left, nil
		}
		p.pos++

		nextMin := prec + 1
		if op == '^' {
			nextMin = prec
		}
		right, err := p.parseBinary(nextMin)
		if err != nil {
			return 0, err
		}

		switch op {
		case '+':
			left += right
		case '-':
			left -= right
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		case '^':
			left = math.Pow(left, right)
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpaces()
	if p.match('+') {
		return p.parseUnary()
	}
	if p.match('-') {
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	p.skipSpaces()
	if p.match('(') {
		value, err := p.parseBinary(1)
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if !p.match(')') {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return value, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	p.skipSpaces()
	start := p.pos
	hasDigit := false
	hasDot := false

	for p.hasNext() {
		ch := p.peek()
		if ch >= '0' && ch <= '9' {
			hasDigit = true
			p.pos++
			continue
		}
		if ch == '.' {
			if hasDot {
				return 0, fmt.Errorf("invalid number format at position %d", p.pos)
			}
			hasDot = true
			p.pos++
			continue
		}
		break
	}

	if !hasDigit {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	raw := p.input[start:p.pos]
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return value, nil
}

func (p *exprParser) skipSpaces() {
	for p.hasNext() && p.peek() == ' ' {
		p.pos++
	}
}

func (p *exprParser) hasNext() bool {
	return p.pos < len(p.input)
}

func (p *exprParser) peek() byte {
	return p.input[p.pos]
}

func (p *exprParser) match(expected byte) bool {
	if p.hasNext() && p.peek() == expected {
		p.pos++
		return true
	}
	return false
}
