package sqlwarehouse

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
)

// timeLayouts are the text timestamp forms recognised in change columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// scanRow reads a row produced by table.selectSQL.
func scanRow(rows *sql.Rows, t *table) (domain.Record, Mark, error) {
	var changeClass, changeText, keyClass, keyText sql.NullString
	vals := make([]any, len(t.columns))
	dest := make([]any, 0, 4+len(vals))
	dest = append(dest, &changeClass, &changeText, &keyClass, &keyText)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return domain.Record{}, Mark{}, err
	}

	fields := make(map[string]any, len(t.columns))
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
		fields[c.Name] = normalise(vals[i])
	}

	id := t.name + "/" + keyText.String
	r := domain.Record{
		ID:      id,
		Table:   t.name,
		Title:   title(fields, id),
		Content: content(textColumns(t), fields),
		Fields:  fields,
	}
	if t.change != "" {
		r.UpdatedAt = changeTime(fields[t.change], changeText.String, changeClass.String)
	}

	m := Mark{Key: keyText.String, KeyClass: keyClass.String}
	if t.change != "" {
		m.Change, m.ChangeClass = changeText.String, changeClass.String
	}
	return r, m, nil
}

func textColumns(t *table) []string {
	if len(t.text) > 0 {
		return t.text
	}
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// normalise turns driver values into plain Go values.
func normalise(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// content joins the non-empty string values of cols.
func content(cols []string, fields map[string]any) string {
	var parts []string
	for _, c := range cols {
		if s, ok := fields[c].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// title prefers a title or name column.
func title(fields map[string]any, fallback string) string {
	for _, k := range []string{"title", "name", "subject"} {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// changeTime interprets a change column value as a time. Integers are Unix
// seconds. Unrecognised values give the zero time.
func changeTime(v any, text, class string) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	switch class {
	case "integer":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return time.Unix(n, 0).UTC()
		}
	case "real":
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			sec := int64(f)
			return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
		}
	case "text":
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

