package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weaverdb/weaverdb/internal/sql/lexer"
	"github.com/weaverdb/weaverdb/internal/table"
)

// Incomplete reports that the token stream ended mid-statement, naming
// which kinds would have continued it — spec §4.7's distinction between
// "ran out of input" and "wrong token present".
type Incomplete struct {
	Expected []lexer.Kind
}

func (e *Incomplete) Error() string {
	return fmt.Sprintf("incomplete statement: expected one of %v", e.Expected)
}

// UnexpectedToken reports a token present where it shouldn't be, along
// with what would have been acceptable and how many tokens were
// consumed before the failure (useful for error-position reporting).
type UnexpectedToken struct {
	Found    lexer.Token
	Expected []lexer.Kind
	Consumed int
}

func (e *UnexpectedToken) Error() string {
	return fmt.Sprintf("unexpected token %q at %d: expected one of %v", e.Found.Text, e.Found.Start, e.Expected)
}

// Parse parses a single SQL statement from src.
func Parse(src string) (Statement, error) {
	toks, err := lexer.Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.cur().Kind == lexer.Semicolon {
		p.advance()
	}
	if p.cur().Kind != lexer.EOF {
		return nil, p.unexpected(lexer.EOF)
	}
	return stmt, nil
}

type parser struct {
	toks []lexer.Token
	pos  int
}

func (p *parser) cur() lexer.Token { return p.toks[p.pos] }

func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) unexpected(expected ...lexer.Kind) error {
	if p.cur().Kind == lexer.EOF {
		return &Incomplete{Expected: expected}
	}
	return &UnexpectedToken{Found: p.cur(), Expected: expected, Consumed: p.pos}
}

func (p *parser) expect(k lexer.Kind) (lexer.Token, error) {
	if p.cur().Kind != k {
		return lexer.Token{}, p.unexpected(k)
	}
	return p.advance(), nil
}

func (p *parser) at(k lexer.Kind) bool { return p.cur().Kind == k }

func (p *parser) atAny(ks ...lexer.Kind) bool {
	for _, k := range ks {
		if p.cur().Kind == k {
			return true
		}
	}
	return false
}

func (p *parser) parseStatement() (Statement, error) {
	switch p.cur().Kind {
	case lexer.SELECT:
		return p.parseSelect()
	case lexer.INSERT:
		return p.parseInsert()
	case lexer.CREATE:
		return p.parseCreateTable()
	case lexer.LOAD:
		return p.parseLoadData()
	case lexer.EXPLAIN:
		return p.parseExplain()
	case lexer.EOF:
		return nil, &Incomplete{Expected: []lexer.Kind{lexer.SELECT, lexer.INSERT, lexer.CREATE, lexer.LOAD, lexer.EXPLAIN}}
	default:
		return nil, p.unexpected(lexer.SELECT, lexer.INSERT, lexer.CREATE, lexer.LOAD, lexer.EXPLAIN)
	}
}

func (p *parser) parseExplain() (Statement, error) {
	if _, err := p.expect(lexer.EXPLAIN); err != nil {
		return nil, err
	}
	inner, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &ExplainStmt{Stmt: inner}, nil
}

// ---- SELECT ----

func (p *parser) parseSelect() (*SelectStmt, error) {
	if _, err := p.expect(lexer.SELECT); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}

	col, err := p.parseResultColumn()
	if err != nil {
		return nil, err
	}
	stmt.Columns = append(stmt.Columns, col)
	for p.at(lexer.Comma) {
		p.advance()
		col, err := p.parseResultColumn()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
	}

	if p.at(lexer.FROM) {
		p.advance()
		item, err := p.parseFromItem()
		if err != nil {
			return nil, err
		}
		stmt.From = append(stmt.From, item)
		for p.at(lexer.Comma) {
			p.advance()
			item, err := p.parseFromItem()
			if err != nil {
				return nil, err
			}
			stmt.From = append(stmt.From, item)
		}
	}

	if p.at(lexer.WHERE) {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}

	if p.at(lexer.GROUP) {
		p.advance()
		if _, err := p.expect(lexer.BY); err != nil {
			return nil, err
		}
		expr, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = append(stmt.GroupBy, expr)
		for p.at(lexer.Comma) {
			p.advance()
			expr, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, expr)
		}
	}

	if p.at(lexer.ORDER) {
		p.advance()
		if _, err := p.expect(lexer.BY); err != nil {
			return nil, err
		}
		term, err := p.parseOrderTerm()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = append(stmt.OrderBy, term)
		for p.at(lexer.Comma) {
			p.advance()
			term, err := p.parseOrderTerm()
			if err != nil {
				return nil, err
			}
			stmt.OrderBy = append(stmt.OrderBy, term)
		}
	}

	if p.at(lexer.LIMIT) {
		p.advance()
		n, err := p.parseIntLiteralValue()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
		if p.at(lexer.OFFSET) {
			p.advance()
			off, err := p.parseIntLiteralValue()
			if err != nil {
				return nil, err
			}
			stmt.Offset = &off
		}
	}

	return stmt, nil
}

func (p *parser) parseIntLiteralValue() (int64, error) {
	tok, err := p.expect(lexer.IntLit)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(tok.Text, 10, 64)
	if err != nil {
		return 0, &UnexpectedToken{Found: tok, Expected: []lexer.Kind{lexer.IntLit}, Consumed: p.pos}
	}
	return n, nil
}

func (p *parser) parseOrderTerm() (OrderTerm, error) {
	expr, err := p.parseAdditive()
	if err != nil {
		return OrderTerm{}, err
	}
	term := OrderTerm{Expr: expr}
	if p.at(lexer.ASC) {
		p.advance()
	} else if p.at(lexer.DESC) {
		p.advance()
		term.Descending = true
	}
	return term, nil
}

func (p *parser) parseResultColumn() (ResultColumn, error) {
	if p.at(lexer.Star) {
		p.advance()
		return ResultColumn{Star: true}, nil
	}
	// table.* lookahead: Ident Dot Star
	if p.at(lexer.Ident) && p.peekIsTableStar() {
		tbl := p.advance().Text
		p.advance() // dot
		p.advance() // star
		return ResultColumn{TableStar: tbl}, nil
	}
	expr, err := p.parseOr()
	if err != nil {
		return ResultColumn{}, err
	}
	col := ResultColumn{Expr: expr}
	if p.at(lexer.AS) {
		p.advance()
		tok, err := p.expect(lexer.Ident)
		if err != nil {
			return ResultColumn{}, err
		}
		col.Alias = tok.Text
	} else if p.at(lexer.Ident) {
		col.Alias = p.advance().Text
	}
	return col, nil
}

func (p *parser) peekIsTableStar() bool {
	return p.toks[p.pos].Kind == lexer.Ident &&
		p.pos+2 < len(p.toks) &&
		p.toks[p.pos+1].Kind == lexer.Dot &&
		p.toks[p.pos+2].Kind == lexer.Star
}

func (p *parser) parseFromItem() (FromItem, error) {
	tbl, err := p.parseTableRef()
	if err != nil {
		return FromItem{}, err
	}
	item := FromItem{Table: tbl}
	for p.atAny(lexer.JOIN, lexer.LEFT, lexer.RIGHT, lexer.FULLKW, lexer.INNER, lexer.CROSS) {
		j, err := p.parseJoinClause()
		if err != nil {
			return FromItem{}, err
		}
		item.Joins = append(item.Joins, j)
	}
	return item, nil
}

func (p *parser) parseJoinClause() (JoinClause, error) {
	kind := InnerJoin
	switch p.cur().Kind {
	case lexer.LEFT:
		kind = LeftJoin
		p.advance()
		if p.at(lexer.OUTER) {
			p.advance()
		}
	case lexer.RIGHT:
		kind = RightJoin
		p.advance()
		if p.at(lexer.OUTER) {
			p.advance()
		}
	case lexer.FULLKW:
		kind = FullJoin
		p.advance()
		if p.at(lexer.OUTER) {
			p.advance()
		}
	case lexer.INNER:
		p.advance()
	case lexer.CROSS:
		kind = CrossJoin
		p.advance()
	}
	if _, err := p.expect(lexer.JOIN); err != nil {
		return JoinClause{}, err
	}
	tbl, err := p.parseTableRef()
	if err != nil {
		return JoinClause{}, err
	}
	jc := JoinClause{Kind: kind, Table: tbl}
	if kind != CrossJoin {
		if _, err := p.expect(lexer.ON); err != nil {
			return JoinClause{}, err
		}
		on, err := p.parseOr()
		if err != nil {
			return JoinClause{}, err
		}
		jc.On = on
	}
	return jc, nil
}

// parseQualifiedName parses `[schema.]name`, returning an empty schema
// when no dot-qualification is present.
func (p *parser) parseQualifiedName() (schema, name string, err error) {
	first, err := p.expect(lexer.Ident)
	if err != nil {
		return "", "", err
	}
	if p.at(lexer.Dot) {
		p.advance()
		second, err := p.expect(lexer.Ident)
		if err != nil {
			return "", "", err
		}
		return first.Text, second.Text, nil
	}
	return "", first.Text, nil
}

func (p *parser) parseTableRef() (TableRef, error) {
	if p.at(lexer.LParen) {
		p.advance()
		sub, err := p.parseSelect()
		if err != nil {
			return TableRef{}, err
		}
		if _, err := p.expect(lexer.RParen); err != nil {
			return TableRef{}, err
		}
		ref := TableRef{Subquery: sub}
		if p.at(lexer.AS) {
			p.advance()
		}
		if p.at(lexer.Ident) {
			ref.Alias = p.advance().Text
		}
		return ref, nil
	}
	schema, name, err := p.parseQualifiedName()
	if err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Schema: schema, Name: name}
	if p.at(lexer.AS) {
		p.advance()
		alias, err := p.expect(lexer.Ident)
		if err != nil {
			return TableRef{}, err
		}
		ref.Alias = alias.Text
	} else if p.at(lexer.Ident) {
		ref.Alias = p.advance().Text
	}
	return ref, nil
}

// ---- expressions: precedence from loosest to tightest is
// OR, AND, comparison, additive, multiplicative, unary(NOT/-), primary ----

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.OR) {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.AND) {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

var cmpOps = map[lexer.Kind]BinOp{
	lexer.Eq: OpEq, lexer.NotEq: OpNotEq, lexer.Lt: OpLt,
	lexer.LtEq: OpLtEq, lexer.Gt: OpGt, lexer.GtEq: OpGtEq,
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := cmpOps[p.cur().Kind]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atAny(lexer.Plus, lexer.Minus) {
		op := OpAdd
		if p.cur().Kind == lexer.Minus {
			op = OpSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atAny(lexer.Star, lexer.Slash, lexer.Percent) {
		var op BinOp
		switch p.cur().Kind {
		case lexer.Star:
			op = OpMul
		case lexer.Slash:
			op = OpDiv
		case lexer.Percent:
			op = OpMod
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.at(lexer.NOT) {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Expr: inner}, nil
	}
	if p.at(lexer.Minus) {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNeg, Expr: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case lexer.LParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RParen); err != nil {
			return nil, err
		}
		return inner, nil
	case lexer.IntLit:
		p.advance()
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, &UnexpectedToken{Found: tok, Expected: []lexer.Kind{lexer.IntLit}, Consumed: p.pos}
		}
		return &Literal{Value: table.Int(n)}, nil
	case lexer.FloatLit:
		p.advance()
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, &UnexpectedToken{Found: tok, Expected: []lexer.Kind{lexer.FloatLit}, Consumed: p.pos}
		}
		return &Literal{Value: table.Float(f)}, nil
	case lexer.StringLit:
		p.advance()
		return &Literal{Value: table.String(tok.Text)}, nil
	case lexer.BinaryLit:
		p.advance()
		blob, err := hexDecode(tok.Text)
		if err != nil {
			return nil, &UnexpectedToken{Found: tok, Expected: []lexer.Kind{lexer.BinaryLit}, Consumed: p.pos}
		}
		return &Literal{Value: table.Blob(blob)}, nil
	case lexer.NULLKW:
		p.advance()
		return &Literal{Value: table.Null()}, nil
	case lexer.Ident, lexer.QuotedIdent:
		return p.parseIdentOrCall()
	}
	return nil, p.unexpected(lexer.LParen, lexer.IntLit, lexer.FloatLit, lexer.StringLit, lexer.Ident)
}

func (p *parser) parseIdentOrCall() (Expr, error) {
	first := p.advance()
	if p.at(lexer.LParen) {
		return p.parseCallArgs(first.Text)
	}
	if p.at(lexer.Dot) {
		p.advance()
		col, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: first.Text, Column: col.Text}, nil
	}
	return &ColumnRef{Column: first.Text}, nil
}

func (p *parser) parseCallArgs(name string) (Expr, error) {
	p.advance() // (
	call := &FuncCall{Name: strings.ToUpper(name)}
	if p.at(lexer.Star) {
		p.advance()
		call.Star = true
		if _, err := p.expect(lexer.RParen); err != nil {
			return nil, err
		}
		return call, nil
	}
	if p.at(lexer.RParen) {
		p.advance()
		return call, nil
	}
	arg, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	call.Args = append(call.Args, arg)
	for p.at(lexer.Comma) {
		p.advance()
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	return call, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	}
	return 0, fmt.Errorf("bad hex digit %q", c)
}

// ---- INSERT ----

func (p *parser) parseInsert() (*InsertStmt, error) {
	if _, err := p.expect(lexer.INSERT); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.INTO); err != nil {
		return nil, err
	}
	schema, name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Schema: schema, Table: name}

	if p.at(lexer.LParen) {
		p.advance()
		col, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col.Text)
		for p.at(lexer.Comma) {
			p.advance()
			col, err := p.expect(lexer.Ident)
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col.Text)
		}
		if _, err := p.expect(lexer.RParen); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(lexer.VALUES); err != nil {
		return nil, err
	}
	row, err := p.parseValueRow()
	if err != nil {
		return nil, err
	}
	stmt.Rows = append(stmt.Rows, row)
	for p.at(lexer.Comma) {
		p.advance()
		row, err := p.parseValueRow()
		if err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
	}
	return stmt, nil
}

func (p *parser) parseValueRow() ([]Expr, error) {
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	row := []Expr{expr}
	for p.at(lexer.Comma) {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		row = append(row, expr)
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	return row, nil
}

// ---- CREATE TABLE ----

func (p *parser) parseCreateTable() (*CreateTableStmt, error) {
	if _, err := p.expect(lexer.CREATE); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TABLE); err != nil {
		return nil, err
	}
	schema, name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{Schema: schema, Table: name}
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}

	for {
		col, idx, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		if col.Name != "" {
			stmt.Columns = append(stmt.Columns, col)
		}
		if idx != nil {
			stmt.Indexes = append(stmt.Indexes, *idx)
		}
		if p.at(lexer.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseColumnDef parses one comma-separated entry inside CREATE TABLE's
// parens, returning either a column definition (together with the index
// an inline PRIMARY KEY or UNIQUE declares, if any) or a standalone
// `PRIMARY KEY (cols)` / `UNIQUE (cols)` / `KEY (cols)` table constraint.
func (p *parser) parseColumnDef() (table.ColumnDef, *table.IndexDef, error) {
	if p.at(lexer.PRIMARY) {
		p.advance()
		if _, err := p.expect(lexer.KEY); err != nil {
			return table.ColumnDef{}, nil, err
		}
		cols, err := p.parseColumnList()
		if err != nil {
			return table.ColumnDef{}, nil, err
		}
		return table.ColumnDef{}, &table.IndexDef{Name: "PRIMARY", Columns: cols, Primary: true, Unique: true}, nil
	}
	if p.at(lexer.UNIQUE) {
		p.advance()
		cols, err := p.parseColumnList()
		if err != nil {
			return table.ColumnDef{}, nil, err
		}
		return table.ColumnDef{}, &table.IndexDef{Name: strings.Join(cols, "_"), Columns: cols, Unique: true}, nil
	}
	if p.at(lexer.KEY) {
		p.advance()
		cols, err := p.parseColumnList()
		if err != nil {
			return table.ColumnDef{}, nil, err
		}
		return table.ColumnDef{}, &table.IndexDef{Name: strings.Join(cols, "_"), Columns: cols}, nil
	}

	nameTok, err := p.expect(lexer.Ident)
	if err != nil {
		return table.ColumnDef{}, nil, err
	}
	col := table.ColumnDef{Name: nameTok.Text, Nullable: true}

	switch p.cur().Kind {
	case lexer.INTTYPE:
		p.advance()
		col.Type = table.KindInt
	case lexer.FLOATTYPE:
		p.advance()
		col.Type = table.KindFloat
	case lexer.BOOLEANTYPE:
		p.advance()
		col.Type = table.KindBool
	case lexer.VARCHARTYPE:
		p.advance()
		if p.at(lexer.LParen) {
			p.advance()
			n, err := p.parseIntLiteralValue()
			if err != nil {
				return table.ColumnDef{}, nil, err
			}
			if _, err := p.expect(lexer.RParen); err != nil {
				return table.ColumnDef{}, nil, err
			}
			col.MaxLen = int(n)
		}
		col.Type = table.KindString
	case lexer.VARBINARYTYPE:
		p.advance()
		if p.at(lexer.LParen) {
			p.advance()
			n, err := p.parseIntLiteralValue()
			if err != nil {
				return table.ColumnDef{}, nil, err
			}
			if _, err := p.expect(lexer.RParen); err != nil {
				return table.ColumnDef{}, nil, err
			}
			col.MaxLen = int(n)
		}
		col.Type = table.KindBlob
	default:
		return table.ColumnDef{}, nil, p.unexpected(lexer.INTTYPE, lexer.FLOATTYPE, lexer.BOOLEANTYPE, lexer.VARCHARTYPE, lexer.VARBINARYTYPE)
	}

	var idx *table.IndexDef
	for {
		switch p.cur().Kind {
		case lexer.NOT:
			p.advance()
			if _, err := p.expect(lexer.NULLKW); err != nil {
				return table.ColumnDef{}, nil, err
			}
			col.Nullable = false
		case lexer.NULLKW:
			p.advance()
			col.Nullable = true
		case lexer.AUTOINCREMENT:
			p.advance()
			col.AutoIncrement = true
		case lexer.UNIQUE:
			p.advance()
			idx = &table.IndexDef{Name: col.Name, Columns: []string{col.Name}, Unique: true}
		case lexer.PRIMARY:
			p.advance()
			if _, err := p.expect(lexer.KEY); err != nil {
				return table.ColumnDef{}, nil, err
			}
			col.Nullable = false
			idx = &table.IndexDef{Name: "PRIMARY", Columns: []string{col.Name}, Primary: true, Unique: true}
		default:
			return col, idx, nil
		}
	}
}

func (p *parser) parseColumnList() ([]string, error) {
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	tok, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	cols := []string{tok.Text}
	for p.at(lexer.Comma) {
		p.advance()
		tok, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		cols = append(cols, tok.Text)
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	return cols, nil
}

// ---- LOAD DATA INFILE ----

func (p *parser) parseLoadData() (*LoadDataStmt, error) {
	if _, err := p.expect(lexer.LOAD); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.DATA); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.INFILE); err != nil {
		return nil, err
	}
	pathTok, err := p.expect(lexer.StringLit)
	if err != nil {
		return nil, err
	}
	stmt := &LoadDataStmt{Path: pathTok.Text, FieldsTerminatedBy: ",", LinesTerminatedBy: "\n"}

	if _, err := p.expect(lexer.INTO); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TABLE); err != nil {
		return nil, err
	}
	schema, name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Schema, stmt.Table = schema, name

	if p.at(lexer.FIELDS) {
		p.advance()
		if _, err := p.expect(lexer.TERMINATED); err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.BY); err != nil {
			return nil, err
		}
		tok, err := p.expect(lexer.StringLit)
		if err != nil {
			return nil, err
		}
		stmt.FieldsTerminatedBy = tok.Text
	}
	if p.at(lexer.LINES) && p.peekIsLinesStarting() {
		p.advance() // LINES
		p.advance() // STARTING
		if _, err := p.expect(lexer.BY); err != nil {
			return nil, err
		}
		tok, err := p.expect(lexer.StringLit)
		if err != nil {
			return nil, err
		}
		stmt.LinesStartingBy = tok.Text
	}
	if p.at(lexer.LINES) {
		p.advance()
		if _, err := p.expect(lexer.TERMINATED); err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.BY); err != nil {
			return nil, err
		}
		tok, err := p.expect(lexer.StringLit)
		if err != nil {
			return nil, err
		}
		stmt.LinesTerminatedBy = tok.Text
	}
	if p.at(lexer.IGNORE) {
		p.advance()
		n, err := p.parseIntLiteralValue()
		if err != nil {
			return nil, err
		}
		stmt.IgnoreLines = int(n)
		if p.at(lexer.LINES) {
			p.advance()
		}
	}
	if p.at(lexer.LParen) {
		cols, err := p.parseColumnList()
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}
	return stmt, nil
}

func (p *parser) peekIsLinesStarting() bool {
	return p.pos+1 < len(p.toks) && p.toks[p.pos+1].Kind == lexer.STARTING
}
