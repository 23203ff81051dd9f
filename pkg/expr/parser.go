package expr

import (
	"fmt"
	"strings"
	"unicode"
)

// Parse compiles a condition expression into a typed tree. A malformed
// expression is a configuration error; parsing never touches run state.
func Parse(input string) (Node, error) {
	p := &parser{tokens: nil, pos: 0}

	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p.tokens = tokens

	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %q at end of expression", tok.text)
	}

	return node, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenOp     // == != && || !
	tokenLParen // (
	tokenRParen // )
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var tokens []token

	runes := []rune(input)
	i := 0

	for i < len(runes) {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1

			for j < len(runes) && runes[j] != quote {
				j++
			}

			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal at offset %d", i)
			}

			tokens = append(tokens, token{tokenString, string(runes[i+1 : j])})
			i = j + 1
		case c == '=' || c == '!' || c == '&' || c == '|':
			if i+1 < len(runes) {
				pair := string(runes[i : i+2])
				if pair == "==" || pair == "!=" || pair == "&&" || pair == "||" {
					tokens = append(tokens, token{tokenOp, pair})
					i += 2

					continue
				}
			}

			if c == '!' {
				tokens = append(tokens, token{tokenOp, "!"})
				i++

				continue
			}

			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) ||
				runes[j] == '_' || runes[j] == '.' || runes[j] == '-') {
				j++
			}

			tokens = append(tokens, token{tokenIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}

	tokens = append(tokens, token{tokenEOF, ""})

	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}

	return tok
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenOp && p.peek().text == "||" {
		p.next()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: "||", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenOp && p.peek().text == "&&" {
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: "&&", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind == tokenOp && p.peek().text == "!" {
		p.next()

		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &notNode{inner: inner}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	if p.peek().kind == tokenLParen {
		p.next()

		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if tok := p.next(); tok.kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' but found %q", tok.text)
		}

		return node, nil
	}

	left, isAlways, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	if isAlways {
		return &alwaysNode{}, nil
	}

	if tok := p.peek(); tok.kind == tokenOp && (tok.text == "==" || tok.text == "!=") {
		op := p.next().text

		right, rightAlways, err := p.parseTerm()
		if err != nil {
			return nil, err
		}

		if rightAlways {
			return nil, fmt.Errorf("always() cannot be compared: %w", ErrNotBoolean)
		}

		return &compareNode{left: left, right: right, negate: op == "!="}, nil
	}

	return nil, fmt.Errorf("bare value needs a comparison: %w", ErrNotBoolean)
}

// parseTerm returns a value node, or isAlways=true for the always()
// sentinel, which is the only call usable as a bare boolean.
func (p *parser) parseTerm() (valueNode, bool, error) {
	tok := p.next()

	switch tok.kind {
	case tokenString:
		return &literalNode{text: tok.text}, false, nil
	case tokenIdent:
		switch {
		case tok.text == "always" && p.peek().kind == tokenLParen:
			if err := p.expectEmptyArgs(); err != nil {
				return nil, false, err
			}

			return nil, true, nil
		case tok.text == "status" && p.peek().kind == tokenLParen:
			jobID, err := p.expectSingleArg()
			if err != nil {
				return nil, false, err
			}

			return &statusNode{jobID: jobID}, false, nil
		default:
			return &identNode{name: tok.text}, false, nil
		}
	default:
		return nil, false, fmt.Errorf("unexpected token %q", tok.text)
	}
}

func (p *parser) expectEmptyArgs() error {
	p.next() // consume '('

	if tok := p.next(); tok.kind != tokenRParen {
		return fmt.Errorf("expected ')' but found %q", tok.text)
	}

	return nil
}

func (p *parser) expectSingleArg() (string, error) {
	p.next() // consume '('

	arg := p.next()
	if arg.kind != tokenIdent && arg.kind != tokenString {
		return "", fmt.Errorf("status() needs a job id, found %q", arg.text)
	}

	if tok := p.next(); tok.kind != tokenRParen {
		return "", fmt.Errorf("expected ')' but found %q", tok.text)
	}

	return strings.TrimSpace(arg.text), nil
}
