package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// dialect selects how queries over the records table are rendered.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// query accumulates SQL text and bound arguments.
type query struct {
	dialect dialect
	sb      strings.Builder
	args    []any
}

func newQuery(d dialect) *query {
	return &query{dialect: d}
}

func (q *query) String() string {
	return q.sb.String()
}

func (q *query) write(parts ...string) *query {
	for _, p := range parts {
		q.sb.WriteString(p)
	}
	return q
}

// bind adds an argument and returns its placeholder.
func (q *query) bind(v any) string {
	q.args = append(q.args, v)
	if q.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", len(q.args))
	}
	return "?"
}

// bindJSON adds v encoded as JSON text.
func (q *query) bindJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return q.bind(string(data)), nil
}

// fieldValue renders an expression comparable across documents.
func (q *query) fieldValue(field string) string {
	if q.dialect == dialectPostgres {
		return "doc->'" + field + "'"
	}
	return "json_extract(doc, '$." + field + "')"
}

func (q *query) fieldText(field string) string {
	if q.dialect == dialectPostgres {
		return "doc->>'" + field + "'"
	}
	return "json_extract(doc, '$." + field + "')"
}

// where renders the filter as a boolean SQL expression.
func (q *query) where(f Filter) error {
	if err := f.validate(); err != nil {
		return err
	}
	return q.filter(f)
}

func (q *query) filter(f Filter) error {
	if f.empty() {
		q.write("1=1")
		return nil
	}

	q.write("(")
	for i, c := range f.All {
		if i > 0 {
			q.write(" AND ")
		}
		if err := q.condition(c); err != nil {
			return err
		}
	}
	for i, g := range f.Groups {
		if i > 0 || len(f.All) > 0 {
			q.write(" AND ")
		}
		if err := q.filter(g); err != nil {
			return err
		}
	}
	if len(f.Any) > 0 {
		if len(f.All) > 0 || len(f.Groups) > 0 {
			q.write(" AND ")
		}
		q.write("(")
		for i, c := range f.Any {
			if i > 0 {
				q.write(" OR ")
			}
			if err := q.condition(c); err != nil {
				return err
			}
		}
		q.write(")")
	}
	q.write(")")
	return nil
}

func (q *query) condition(c Condition) error {
	switch c.Op {
	case OpEq:
		return q.equals(c.Field, c.Value)
	case OpIn:
		if len(c.Values) == 0 {
			q.write("1=0")
			return nil
		}
		q.write("(")
		for i, v := range c.Values {
			if i > 0 {
				q.write(" OR ")
			}
			if err := q.equals(c.Field, v); err != nil {
				return err
			}
		}
		q.write(")")
		return nil
	case OpContains:
		needle, _ := normalize(c.Value).(string)
		pattern := "%" + escapeLike(needle) + "%"
		if q.dialect == dialectPostgres {
			q.write(q.fieldText(c.Field), " ILIKE ", q.bind(pattern), ` ESCAPE '\'`)
		} else {
			q.write(q.fieldText(c.Field), " LIKE ", q.bind(pattern), ` ESCAPE '\'`)
		}
		return nil
	case OpBefore:
		limit, _ := c.Value.(time.Time)
		ts := limit.UTC().Format(time.RFC3339Nano)
		if q.dialect == dialectPostgres {
			q.write("(", q.fieldText(c.Field), ")::timestamptz < ", q.bind(ts), "::timestamptz")
		} else {
			q.write("julianday(", q.fieldText(c.Field), ") < julianday(", q.bind(ts), ")")
		}
		return nil
	default:
		return fmt.Errorf("unsupported operator %d", c.Op)
	}
}

func (q *query) equals(field string, value any) error {
	value = normalize(value)
	if value == nil {
		if q.dialect == dialectPostgres {
			q.write("(", q.fieldValue(field), " IS NULL OR ", q.fieldValue(field), " = 'null'::jsonb)")
		} else {
			q.write(q.fieldValue(field), " IS NULL")
		}
		return nil
	}

	ph, err := q.bindJSON(value)
	if err != nil {
		return err
	}
	if q.dialect == dialectPostgres {
		q.write(q.fieldValue(field), " = ", ph, "::jsonb")
	} else {
		q.write(q.fieldValue(field), " = json_extract(", ph, ", '$')")
	}
	return nil
}

// orderBy renders the ORDER BY clause; seq is always the final key.
func (q *query) orderBy(opts FindOptions) error {
	q.write(" ORDER BY ")
	for _, sf := range opts.Sort {
		if err := validateField(sf.Field); err != nil {
			return err
		}
		q.write(q.fieldValue(sf.Field))
		if sf.Desc {
			q.write(" DESC")
			if q.dialect == dialectPostgres {
				q.write(" NULLS LAST")
			}
		} else if q.dialect == dialectPostgres {
			q.write(" ASC NULLS FIRST")
		}
		q.write(", ")
	}
	if opts.Newest {
		q.write("seq DESC")
	} else {
		q.write("seq")
	}
	return nil
}

func (q *query) page(opts FindOptions) {
	if opts.Limit > 0 {
		q.write(" LIMIT ", q.bind(opts.Limit))
	} else if opts.Skip > 0 && q.dialect == dialectSQLite {
		q.write(" LIMIT -1")
	}
	if opts.Skip > 0 {
		q.write(" OFFSET ", q.bind(opts.Skip))
	}
}

// firstMatch renders a sub-select of the seq of the first matching row.
func (q *query) firstMatch(collection string, f Filter) error {
	q.write("(SELECT seq FROM records WHERE collection = ", q.bind(collection), " AND ")
	if err := q.where(f); err != nil {
		return err
	}
	q.write(" ORDER BY seq LIMIT 1)")
	return nil
}

// selectQuery renders a Find.
func selectQuery(d dialect, collection string, f Filter, opts FindOptions) (*query, error) {
	q := newQuery(d)
	q.write("SELECT doc FROM records WHERE collection = ", q.bind(collection), " AND ")
	if err := q.where(f); err != nil {
		return nil, err
	}
	if err := q.orderBy(opts); err != nil {
		return nil, err
	}
	q.page(opts)
	return q, nil
}

// countQuery renders a Count.
func countQuery(d dialect, collection string, f Filter) (*query, error) {
	q := newQuery(d)
	q.write("SELECT COUNT(*) FROM records WHERE collection = ", q.bind(collection), " AND ")
	if err := q.where(f); err != nil {
		return nil, err
	}
	return q, nil
}

// updateQuery renders an UpdateOne. The filter is repeated on the outer
// statement so a concurrent writer that changed the row makes it no longer match.
func updateQuery(d dialect, collection string, f Filter, patch Document) (*query, error) {
	q := newQuery(d)
	q.write("UPDATE records SET doc = ")

	if d == dialectPostgres {
		fields := make(Document, len(patch))
		for k, v := range patch {
			if k == FieldID {
				continue
			}
			if err := validateField(k); err != nil {
				return nil, err
			}
			fields[k] = v
		}
		ph, err := q.bindJSON(fields)
		if err != nil {
			return nil, err
		}
		q.write("doc || ", ph, "::jsonb")
	} else {
		q.write("json_set(doc")
		for _, k := range sortedKeys(patch) {
			if k == FieldID {
				continue
			}
			if err := validateField(k); err != nil {
				return nil, err
			}
			ph, err := q.bindJSON(patch[k])
			if err != nil {
				return nil, err
			}
			q.write(", '$.", k, "', json(", ph, ")")
		}
		q.write(")")
	}

	q.write(" WHERE collection = ", q.bind(collection), " AND ")
	if err := q.where(f); err != nil {
		return nil, err
	}
	q.write(" AND seq = ")
	if err := q.firstMatch(collection, f); err != nil {
		return nil, err
	}
	return q, nil
}

// deleteQuery renders DeleteOne (one=true) or DeleteMany.
func deleteQuery(d dialect, collection string, f Filter, one bool) (*query, error) {
	q := newQuery(d)
	q.write("DELETE FROM records WHERE collection = ", q.bind(collection), " AND ")
	if err := q.where(f); err != nil {
		return nil, err
	}
	if one {
		q.write(" AND seq = ")
		if err := q.firstMatch(collection, f); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// distinctQuery renders a Distinct returning JSON text per value.
func distinctQuery(d dialect, collection, field string) (*query, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}
	q := newQuery(d)
	if d == dialectPostgres {
		expr := "doc->'" + field + "'"
		q.write("SELECT ", expr, "::text FROM records WHERE collection = ", q.bind(collection),
			" AND ", expr, " IS NOT NULL AND ", expr, " <> 'null'::jsonb",
			" GROUP BY ", expr, " ORDER BY MIN(seq)")
	} else {
		expr := "doc -> '$." + field + "'"
		q.write("SELECT ", expr, " FROM records WHERE collection = ", q.bind(collection),
			" AND ", expr, " IS NOT NULL AND ", expr, " <> 'null'",
			" GROUP BY ", expr, " ORDER BY MIN(seq)")
	}
	return q, nil
}

// incrementQuery renders an upserting counter increment returning the new value.
func incrementQuery(d dialect, collection, id, field string, delta int64) (*query, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}
	q := newQuery(d)
	if d == dialectPostgres {
		c, i, f, n := q.bind(collection), q.bind(id), q.bind(field), q.bind(delta)
		q.write("INSERT INTO records (collection, id, doc) VALUES (", c, ", ", i,
			", jsonb_build_object('id', ", i, "::text, ", f, "::text, ", n, "::bigint))",
			" ON CONFLICT (collection, id) DO UPDATE SET doc = jsonb_set(records.doc, ARRAY[", f, "::text],",
			" to_jsonb(COALESCE((records.doc->>", f, "::text)::bigint, 0) + ", n, "::bigint))",
			" RETURNING (doc->>", f, "::text)::bigint")
		return q, nil
	}
	path := "'$." + field + "'"
	q.write("INSERT INTO records (collection, id, doc) VALUES (", q.bind(collection), ", ", q.bind(id),
		", json_object('id', ", q.bind(id), ", '", field, "', ", q.bind(delta), "))",
		" ON CONFLICT (collection, id) DO UPDATE SET doc = json_set(records.doc, ", path,
		", COALESCE(json_extract(records.doc, ", path, "), 0) + ", q.bind(delta), ")",
		" RETURNING json_extract(doc, ", path, ")")
	return q, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func sortedKeys(doc Document) []string {
	return slices.Sorted(maps.Keys(doc))
}
