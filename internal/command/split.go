package command

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

var (
	ErrEmptyCommand      = errors.New("command: empty command line")
	ErrSyntax            = errors.New("command: malformed command line")
	ErrUnsupportedSyntax = errors.New("command: shell operators require an explicit sh -c wrapper")
)

// Split tokenizes line with POSIX shell word-splitting rules. Quotes and
// escapes are removed; parameter expansion, command substitution and
// globbing are left as literal text. Anything beyond a single simple command
// (pipes, lists, redirections, inline assignments, trailing comments) is
// rejected. A word starting with # must be quoted to be passed through.
func Split(line string) ([]string, error) {
	if strings.TrimSpace(line) == "" {
		return nil, ErrEmptyCommand
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX), syntax.KeepComments(true))
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	switch len(file.Stmts) {
	case 0:
		return nil, ErrEmptyCommand
	case 1:
	default:
		return nil, unsupported("multiple statements")
	}

	stmt := file.Stmts[0]
	if len(stmt.Comments) > 0 || len(file.Last) > 0 {
		return nil, unsupported("comment")
	}
	if stmt.Negated || stmt.Background || stmt.Coprocess {
		return nil, unsupported("statement modifiers")
	}
	if len(stmt.Redirs) > 0 {
		return nil, unsupported("redirection")
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		return nil, unsupported("compound command or pipeline")
	}
	if len(call.Assigns) > 0 {
		return nil, unsupported("inline variable assignment")
	}
	if len(call.Args) == 0 {
		return nil, ErrEmptyCommand
	}

	words := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		w, err := literalWord(word)
		if err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, nil
}

func literalWord(word *syntax.Word) (string, error) {
	var b strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(unescapeUnquoted(p.Value))
		case *syntax.SglQuoted:
			if p.Dollar {
				if err := printLiteral(&b, p); err != nil {
					return "", err
				}
				continue
			}
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					b.WriteString(unescapeDoubleQuoted(lit.Value))
					continue
				}
				if err := printLiteral(&b, inner); err != nil {
					return "", err
				}
			}
		default:
			if err := printLiteral(&b, part); err != nil {
				return "", err
			}
		}
	}
	return b.String(), nil
}

// printLiteral writes the source form of an expansion node unchanged.
func printLiteral(b *strings.Builder, node syntax.Node) error {
	if err := syntax.NewPrinter().Print(b, node); err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return nil
}

func unescapeUnquoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		if s[i] == '\n' {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unescapeDoubleQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch next := s[i+1]; next {
		case '$', '`', '"', '\\':
			b.WriteByte(next)
			i++
		case '\n':
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unsupported(what string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedSyntax, what)
}
