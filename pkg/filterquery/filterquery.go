// Package filterquery parses the filterQuery list parameter into a SQL
// where clause over a whitelist of columns.
//
// The grammar is a small SQL-like expression language:
//
//	title LIKE '%login%' AND (priority = 'high' OR priority = 'medium')
//	version >= 2 AND status IN ('draft', 'published')
package filterquery

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
)

// MaxLength bounds the accepted query size.
const MaxLength = 1024

type expression struct {
	Or []*conjunction `parser:"@@ ( 'OR' @@ )*"`
}

type conjunction struct {
	And []*term `parser:"@@ ( 'AND' @@ )*"`
}

type term struct {
	Sub  *expression `parser:"  '(' @@ ')'"`
	Cond *condition  `parser:"| @@"`
}

type condition struct {
	Field string   `parser:"@Ident"`
	In    []*value `parser:"( 'IN' '(' @@ ( ',' @@ )* ')'"`
	Op    string   `parser:"| @( Operator | 'LIKE' | 'ILIKE' )"`
	Value *value   `parser:"  @@ )"`
}

type value struct {
	String *string  `parser:"  @String"`
	Number *float64 `parser:"| @Number"`
}

func (v *value) arg() any {
	if v.String != nil {
		s := *v.String
		return s[1 : len(s)-1]
	}
	return *v.Number
}

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(AND|OR|ILIKE|LIKE|IN)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?`},
	{Name: "Operator", Pattern: `!=|<>|<=|>=|=|<|>`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[expression](
	participle.Lexer(queryLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Keyword"),
)

// Query is a parsed filter expression.
type Query struct {
	raw  string
	expr *expression
}

// Parse parses a filter expression. Syntax errors are InvalidArgument.
func Parse(q string) (*Query, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errs.InvalidArgument("filterQuery is empty")
	}
	if len(q) > MaxLength {
		return nil, errs.InvalidArgument("filterQuery exceeds maximum length of %d characters", MaxLength)
	}
	expr, err := parser.ParseString("", q)
	if err != nil {
		return nil, errs.InvalidArgument("invalid filterQuery: %v", err)
	}
	return &Query{raw: q, expr: expr}, nil
}

// String returns the source text.
func (q *Query) String() string { return q.raw }

// SQL renders the expression with ? placeholders. columns maps the field
// names accepted in queries to database columns; any other field is
// rejected.
func (q *Query) SQL(columns map[string]string) (string, []any, error) {
	var b strings.Builder
	var args []any
	if err := renderExpr(&b, &args, q.expr, columns); err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

func renderExpr(b *strings.Builder, args *[]any, e *expression, columns map[string]string) error {
	for i, c := range e.Or {
		if i > 0 {
			b.WriteString(" OR ")
		}
		for j, t := range c.And {
			if j > 0 {
				b.WriteString(" AND ")
			}
			if t.Sub != nil {
				b.WriteString("(")
				if err := renderExpr(b, args, t.Sub, columns); err != nil {
					return err
				}
				b.WriteString(")")
				continue
			}
			if err := renderCondition(b, args, t.Cond, columns); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderCondition(b *strings.Builder, args *[]any, c *condition, columns map[string]string) error {
	col, ok := columns[c.Field]
	if !ok {
		return errs.InvalidArgument("filterQuery: unknown field %q", c.Field)
	}

	if len(c.In) > 0 {
		b.WriteString(col + " IN (")
		for i, v := range c.In {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			*args = append(*args, v.arg())
		}
		b.WriteString(")")
		return nil
	}

	switch op := strings.ToUpper(c.Op); op {
	case "LIKE", "ILIKE":
		s, ok := c.Value.arg().(string)
		if !ok {
			return errs.InvalidArgument("filterQuery: %s requires a string on field %q", op, c.Field)
		}
		fmt.Fprintf(b, "LOWER(%s) LIKE ?", col)
		*args = append(*args, strings.ToLower(s))
	case "<>":
		b.WriteString(col + " != ?")
		*args = append(*args, c.Value.arg())
	default:
		b.WriteString(col + " " + op + " ?")
		*args = append(*args, c.Value.arg())
	}
	return nil
}

// Apply parses q and adds it to db as a where clause. An empty q returns db
// unchanged.
func Apply(db *gorm.DB, q string, columns map[string]string) (*gorm.DB, error) {
	if strings.TrimSpace(q) == "" {
		return db, nil
	}
	parsed, err := Parse(q)
	if err != nil {
		return nil, err
	}
	clause, args, err := parsed.SQL(columns)
	if err != nil {
		return nil, err
	}
	return db.Where("("+clause+")", args...), nil
}
