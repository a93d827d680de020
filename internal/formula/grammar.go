package formula

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// The formula grammar is deliberately small:
//
//	expr    = term (("+" | "-") term)*
//	term    = factor (("*" | "/") factor)*
//	factor  = "-"? primary
//	primary = number | call | ref | "(" expr ")"
//	call    = ident "(" (expr ("," expr)*)? ")"
//	ref     = ident ("." ident)*

var formulaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Number", Pattern: `\d+(\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[-+*/(),.]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[exprNode](
	participle.Lexer(formulaLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

type exprNode struct {
	Left  *termNode `parser:"@@"`
	Right []*opTerm `parser:"@@*"`
}

type opTerm struct {
	Op   string    `parser:"@('+' | '-')"`
	Term *termNode `parser:"@@"`
}

type termNode struct {
	Left  *factorNode `parser:"@@"`
	Right []*opFactor `parser:"@@*"`
}

type opFactor struct {
	Op     string      `parser:"@('*' | '/')"`
	Factor *factorNode `parser:"@@"`
}

type factorNode struct {
	Neg     bool         `parser:"@'-'?"`
	Primary *primaryNode `parser:"@@"`
}

type primaryNode struct {
	Number *string   `parser:"  @Number"`
	Call   *callNode `parser:"| @@"`
	Ref    *string   `parser:"| @Ident ( @'.' @Ident )*"`
	Sub    *exprNode `parser:"| '(' @@ ')'"`
}

type callNode struct {
	Name string      `parser:"@Ident '('"`
	Args []*exprNode `parser:"( @@ ( ',' @@ )* )? ')'"`
}
