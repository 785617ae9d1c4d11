package sqlwarehouse

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// rowidKey keys tables without a single-column primary key.
const rowidKey = "rowid"

// table is an introspected table and the SQL needed to read it.
type table struct {
	name       string
	columns    []domain.Column
	primaryKey []string

	// key is the single primary key column, or rowid.
	key string

	// change is the change column, empty when the table lacks one.
	change string

	// text lists the columns with text affinity.
	text []string
}

// introspect lists the tables matching the filter, ordered by name.
func introspect(ctx context.Context, conn *sql.Conn, cfg *Config) ([]*table, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		if matchesAny(cfg.Tables, name) {
			names = append(names, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]*table, 0, len(names))
	for _, name := range names {
		t, err := describe(ctx, conn, name, cfg.ChangeColumn)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// missingTables returns literal filter entries that name no table.
func missingTables(filter []string, tables []*table) []string {
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[t.name] = true
	}
	var missing []string
	for _, f := range filter {
		if !strings.ContainsAny(f, "*?[") && !have[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func matchesAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// describe reads PRAGMA table_info for one table.
func describe(ctx context.Context, conn *sql.Conn, name, changeColumn string) (*table, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := &table{name: name, key: rowidKey}
	type pkCol struct {
		name string
		pos  int
	}
	var pks []pkCol
	for rows.Next() {
		var (
			cid      int
			col, typ string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		t.columns = append(t.columns, domain.Column{Name: col, Type: typ})
		if pk > 0 {
			pks = append(pks, pkCol{col, pk})
		}
		if strings.EqualFold(col, changeColumn) {
			t.change = col
		}
		if textAffinity(typ) {
			t.text = append(t.text, col)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, p := range pks {
		t.primaryKey = append(t.primaryKey, p.name)
	}
	if len(pks) == 1 {
		t.key = pks[0].name
	}
	return t, nil
}

// textAffinity follows SQLite's column affinity rules for TEXT.
func textAffinity(declType string) bool {
	u := strings.ToUpper(declType)
	return strings.Contains(u, "CHAR") || strings.Contains(u, "CLOB") || strings.Contains(u, "TEXT")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (t *table) keyExpr() string {
	if t.key == rowidKey {
		return rowidKey
	}
	return quote(t.key)
}

// selectSQL builds a SELECT whose first four columns are the change value
// class and text, then the key class and text, followed by every column.
func (t *table) selectSQL(conds []string, order string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if t.change != "" {
		cc := quote(t.change)
		fmt.Fprintf(&b, "typeof(%s), CAST(%s AS TEXT), ", cc, cc)
	} else {
		b.WriteString("NULL, NULL, ")
	}
	k := t.keyExpr()
	fmt.Fprintf(&b, "typeof(%s), CAST(%s AS TEXT)", k, k)
	for _, c := range t.columns {
		b.WriteString(", ")
		b.WriteString(quote(c.Name))
	}
	b.WriteString(" FROM ")
	b.WriteString(quote(t.name))
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(order)
	}
	b.WriteString(" LIMIT ?")
	return b.String()
}

// keysetSQL reads the next page after mark, or the first page when mark is nil.
func (t *table) keysetSQL(mark *Mark, limit int) (string, []any) {
	var conds []string
	var args []any
	k := t.keyExpr()

	order := k
	if t.change != "" {
		cc := quote(t.change)
		conds = append(conds, cc+" IS NOT NULL")
		if mark != nil {
			conds = append(conds, fmt.Sprintf("(%s > ? OR (%s = ? AND %s > ?))", cc, cc, k))
			cv := bind(mark.Change, mark.ChangeClass)
			args = append(args, cv, cv, bind(mark.Key, mark.KeyClass))
		}
		order = cc + ", " + k
	} else if mark != nil {
		conds = append(conds, k+" > ?")
		args = append(args, bind(mark.Key, mark.KeyClass))
	}
	return t.selectSQL(conds, order), append(args, limit)
}

// searchSQL matches rows where any text column contains any term.
func (t *table) searchSQL(terms []string, limit int) (string, []any) {
	var ors []string
	var args []any
	for _, col := range t.text {
		for _, term := range terms {
			ors = append(ors, quote(col)+` LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(term)+"%")
		}
	}
	return t.selectSQL([]string{"(" + strings.Join(ors, " OR ") + ")"}, t.keyExpr()), append(args, limit)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// schema converts the tables to the domain form.
func schema(source string, tables []*table) *domain.SourceSchema {
	out := &domain.SourceSchema{Source: source}
	for _, t := range tables {
		out.Tables = append(out.Tables, domain.TableSchema{
			Name:       t.name,
			Columns:    t.columns,
			PrimaryKey: t.primaryKey,
		})
	}
	return out.Seal()
}
