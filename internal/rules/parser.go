package rules

import (
	"fmt"
	"strings"

	"github.com/wudi/gateway/internal/luautil"
)

// Parse compiles DSL source text into groups of rules. The surface is
// line-oriented:
//
//	EVENT <METHOD> <resource> [IN|OUT]
//	WHEN <cond>
//	IF <expr> THEN <action> [ELSE <action>]
//	<field> = <expr>
//	[SYNC] INSERT INTO <table> VALUES (<exprList>)
//	[SYNC] UPDATE <table> SET <field> = <expr> WHERE <field> == <expr> [AND ...]
//	TRIGGER <objectLiteral>
//	LUA <script>
//
// A parse error aborts loading the whole file; callers keep the previous
// ruleset live rather than applying a partially-parsed one.
func Parse(source string) ([]*Group, error) {
	lines := splitLines(source)

	var groups []*Group
	var current *Group
	var pendingGuard *string

	for lineNo, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case hasKeyword(line, "EVENT"):
			g, err := parseEvent(line)
			if err != nil {
				return nil, lineErr(lineNo, err)
			}
			groups = append(groups, g)
			current = g
			pendingGuard = nil

		case hasKeyword(line, "WHEN"):
			cond := strings.TrimSpace(strings.TrimPrefix(line, "WHEN"))
			if cond == "" {
				return nil, lineErr(lineNo, fmt.Errorf("WHEN requires a condition"))
			}
			pendingGuard = &cond

		default:
			if current == nil {
				return nil, lineErr(lineNo, fmt.Errorf("statement before any EVENT header: %q", line))
			}
			rule, err := parseRuleLine(line, pendingGuard)
			if err != nil {
				return nil, lineErr(lineNo, err)
			}
			current.Rules = append(current.Rules, rule)
			pendingGuard = nil
		}
	}

	return groups, nil
}

func lineErr(lineNo int, err error) error {
	return fmt.Errorf("line %d: %w", lineNo+1, err)
}

func splitLines(source string) []string {
	return strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
}

func hasKeyword(line, keyword string) bool {
	return line == keyword || strings.HasPrefix(line, keyword+" ")
}

func parseEvent(line string) (*Group, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "EVENT"))
	if len(fields) < 2 {
		return nil, fmt.Errorf("EVENT requires a method and resource: %q", line)
	}
	g := &Group{Method: strings.ToUpper(fields[0]), Resource: fields[1]}
	if len(fields) >= 3 {
		switch strings.ToUpper(fields[2]) {
		case "IN":
			g.Direction = "in"
		case "OUT":
			g.Direction = "out"
		default:
			return nil, fmt.Errorf("EVENT direction must be IN or OUT, got %q", fields[2])
		}
	}
	return g, nil
}

// parseRuleLine parses one bare statement or one IF/THEN/ELSE rule,
// applying guard as the rule's condition when it isn't an IF rule itself.
func parseRuleLine(line string, guard *string) (*Rule, error) {
	if hasKeyword(line, "IF") {
		return parseIfRule(line)
	}

	stmt, err := parseStatement(line)
	if err != nil {
		return nil, err
	}
	rule := &Rule{Then: stmt}
	if guard != nil {
		prog, err := compileExpr(*guard)
		if err != nil {
			return nil, fmt.Errorf("WHEN %s: %w", *guard, err)
		}
		rule.ConditionSrc = *guard
		rule.Condition = prog
	}
	return rule, nil
}

func parseIfRule(line string) (*Rule, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "IF"))
	thenIdx := indexKeyword(rest, "THEN")
	if thenIdx == -1 {
		return nil, fmt.Errorf("IF requires THEN: %q", line)
	}
	condSrc := strings.TrimSpace(rest[:thenIdx])
	if condSrc == "" {
		return nil, fmt.Errorf("IF requires a condition: %q", line)
	}

	after := strings.TrimSpace(rest[thenIdx+len("THEN"):])
	thenSrc := after
	elseSrc := ""
	if elseIdx := indexKeyword(after, "ELSE"); elseIdx != -1 {
		thenSrc = strings.TrimSpace(after[:elseIdx])
		elseSrc = strings.TrimSpace(after[elseIdx+len("ELSE"):])
	}
	if thenSrc == "" {
		return nil, fmt.Errorf("THEN requires an action: %q", line)
	}

	condProg, err := compileExpr(condSrc)
	if err != nil {
		return nil, fmt.Errorf("IF %s: %w", condSrc, err)
	}
	thenStmt, err := parseStatement(thenSrc)
	if err != nil {
		return nil, fmt.Errorf("THEN %s: %w", thenSrc, err)
	}

	rule := &Rule{ConditionSrc: condSrc, Condition: condProg, Then: thenStmt}
	if elseSrc != "" {
		elseStmt, err := parseStatement(elseSrc)
		if err != nil {
			return nil, fmt.Errorf("ELSE %s: %w", elseSrc, err)
		}
		rule.Else = elseStmt
	}
	return rule, nil
}

// indexKeyword finds a whole-word occurrence of keyword, ignoring
// occurrences inside string literals.
func indexKeyword(s, keyword string) int {
	inString := false
	var quote byte
	for i := 0; i+len(keyword) <= len(s); i++ {
		c := s[i]
		if inString {
			if c == quote {
				inString = false
			}
			continue
		}
		if c == '\'' || c == '"' {
			inString = true
			quote = c
			continue
		}
		if s[i:i+len(keyword)] == keyword {
			boundaryBefore := i == 0 || !isIdentByte(s[i-1])
			boundaryAfter := i+len(keyword) == len(s) || !isIdentByte(s[i+len(keyword)])
			if boundaryBefore && boundaryAfter {
				return i
			}
		}
	}
	return -1
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func parseStatement(src string) (Statement, error) {
	switch {
	case hasKeyword(src, "LUA"):
		script := strings.TrimSpace(strings.TrimPrefix(src, "LUA"))
		if script == "" {
			return nil, fmt.Errorf("LUA requires a script: %q", src)
		}
		proto, err := luautil.CompileScript(script, "rule")
		if err != nil {
			return nil, fmt.Errorf("LUA %s: %w", script, err)
		}
		return &LuaStmt{Source: script, Proto: proto}, nil

	case hasKeyword(src, "TRIGGER"):
		payload := strings.TrimSpace(strings.TrimPrefix(src, "TRIGGER"))
		prog, err := compileExpr(payload)
		if err != nil {
			return nil, fmt.Errorf("TRIGGER %s: %w", payload, err)
		}
		return &TriggerStmt{PayloadSrc: payload, PayloadProg: prog}, nil

	case hasKeyword(src, "SYNC"):
		rest := strings.TrimSpace(strings.TrimPrefix(src, "SYNC"))
		stmt, err := parseStatement(rest)
		if err != nil {
			return nil, err
		}
		switch s := stmt.(type) {
		case *InsertStmt:
			s.Sync = true
		case *UpdateStmt:
			s.Sync = true
		default:
			return nil, fmt.Errorf("SYNC only applies to INSERT/UPDATE: %q", src)
		}
		return stmt, nil

	case hasKeyword(src, "INSERT"):
		return parseInsert(src)

	case hasKeyword(src, "UPDATE"):
		return parseUpdate(src)

	default:
		return parseAssign(src)
	}
}

func parseInsert(src string) (*InsertStmt, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(src, "INSERT"))
	if !hasKeyword(rest, "INTO") {
		return nil, fmt.Errorf("INSERT requires INTO: %q", src)
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "INTO"))

	valuesIdx := indexKeyword(rest, "VALUES")
	if valuesIdx == -1 {
		return nil, fmt.Errorf("INSERT INTO requires VALUES: %q", src)
	}
	table := strings.TrimSpace(rest[:valuesIdx])
	if table == "" {
		return nil, fmt.Errorf("INSERT INTO requires a table name: %q", src)
	}

	valuesPart := strings.TrimSpace(rest[valuesIdx+len("VALUES"):])
	valuesPart = strings.TrimPrefix(valuesPart, "(")
	valuesPart = strings.TrimSuffix(valuesPart, ")")

	exprs := splitTopLevelCommas(valuesPart)
	stmt := &InsertStmt{Table: table}
	for _, e := range exprs {
		e = strings.TrimSpace(e)
		prog, err := compileExpr(e)
		if err != nil {
			return nil, fmt.Errorf("INSERT INTO %s: value %q: %w", table, e, err)
		}
		stmt.ValuesSrc = append(stmt.ValuesSrc, e)
		stmt.ValuesProg = append(stmt.ValuesProg, prog)
	}
	return stmt, nil
}

func parseUpdate(src string) (*UpdateStmt, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(src, "UPDATE"))
	setIdx := indexKeyword(rest, "SET")
	if setIdx == -1 {
		return nil, fmt.Errorf("UPDATE requires SET: %q", src)
	}
	table := strings.TrimSpace(rest[:setIdx])
	if table == "" {
		return nil, fmt.Errorf("UPDATE requires a table name: %q", src)
	}

	after := strings.TrimSpace(rest[setIdx+len("SET"):])
	whereIdx := indexKeyword(after, "WHERE")
	if whereIdx == -1 {
		return nil, fmt.Errorf("UPDATE SET requires WHERE: %q", src)
	}
	setPart := strings.TrimSpace(after[:whereIdx])
	wherePart := strings.TrimSpace(after[whereIdx+len("WHERE"):])

	field, valueSrc, ok := strings.Cut(setPart, "=")
	if !ok {
		return nil, fmt.Errorf("UPDATE SET requires field = expr: %q", setPart)
	}
	field = strings.TrimSpace(field)
	valueSrc = strings.TrimSpace(valueSrc)
	valueProg, err := compileExpr(valueSrc)
	if err != nil {
		return nil, fmt.Errorf("UPDATE %s SET %s: %w", table, field, err)
	}

	stmt := &UpdateStmt{Table: table, SetField: field, SetValueSrc: valueSrc, SetValueProg: valueProg}

	for _, clause := range strings.Split(wherePart, " AND ") {
		clause = strings.TrimSpace(clause)
		f, v, ok := strings.Cut(clause, "==")
		if !ok {
			return nil, fmt.Errorf("WHERE clauses must be field == expr: %q", clause)
		}
		f = strings.TrimSpace(f)
		v = strings.TrimSpace(v)
		prog, err := compileExpr(v)
		if err != nil {
			return nil, fmt.Errorf("WHERE %s == %s: %w", f, v, err)
		}
		stmt.WhereFields = append(stmt.WhereFields, f)
		stmt.WhereSrc = append(stmt.WhereSrc, v)
		stmt.WhereProg = append(stmt.WhereProg, prog)
	}
	if len(stmt.WhereFields) == 0 {
		return nil, fmt.Errorf("WHERE requires at least one field == expr clause: %q", src)
	}
	return stmt, nil
}

func parseAssign(src string) (*AssignStmt, error) {
	field, valueSrc, ok := strings.Cut(src, "=")
	if !ok {
		return nil, fmt.Errorf("unrecognized statement: %q", src)
	}
	field = strings.TrimSpace(field)
	valueSrc = strings.TrimSpace(valueSrc)
	if field == "" || valueSrc == "" {
		return nil, fmt.Errorf("assignment requires field = expr: %q", src)
	}

	target := "data"
	if dot := strings.IndexByte(field, '.'); dot != -1 {
		prefix := field[:dot]
		switch prefix {
		case "data", "req", "response":
			target = prefix
			field = field[dot+1:]
		}
	}

	prog, err := compileExpr(valueSrc)
	if err != nil {
		return nil, fmt.Errorf("%s = %s: %w", field, valueSrc, err)
	}
	return &AssignStmt{Target: target, Field: field, ValueSrc: valueSrc, ValueProg: prog}, nil
}

// splitTopLevelCommas splits on commas that aren't inside parentheses or
// string literals, so function-call arguments in a VALUES list don't get
// cut in half.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	inString := false
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == quote {
				inString = false
			}
		case c == '\'' || c == '"':
			inString = true
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
