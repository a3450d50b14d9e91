package orm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/eddieafk/ormql/model"
	"github.com/eddieafk/ormql/sql/ast"
	"github.com/eddieafk/ormql/sql/stringifiers"
)

// Model is a table-backed implementation of model.Model
type Model struct {
	db     *DB
	name   string
	table  string
	pk     string
	attrs  []model.Attribute
	assocs []model.Association
	byName map[string]model.Attribute
}

var _ model.Model = (*Model)(nil)

func (m *Model) Name() string                      { return m.name }
func (m *Model) TableName() string                 { return m.table }
func (m *Model) PrimaryKeyAttribute() string       { return m.pk }
func (m *Model) Attributes() []model.Attribute     { return append([]model.Attribute(nil), m.attrs...) }
func (m *Model) Associations() []model.Association { return append([]model.Association(nil), m.assocs...) }

// Column returns the unquoted column name of an attribute
func (m *Model) Column(name string) (string, bool) {
	a, ok := m.byName[name]
	if !ok {
		return "", false
	}
	return columnName(a), true
}

func (m *Model) quotedColumn(name string) (string, bool) {
	col, ok := m.Column(name)
	if !ok {
		return "", false
	}
	return m.db.dialect.QuoteIdentifier(col), true
}

func (m *Model) quotedTable() string {
	return m.db.dialect.QuoteIdentifier(m.table)
}

func (m *Model) selectColumns() []string {
	cols := make([]string, len(m.attrs))
	for i, a := range m.attrs {
		cols[i] = m.db.dialect.QuoteIdentifier(columnName(a))
	}
	return cols
}

// FindAll returns every row matching opts
func (m *Model) FindAll(ctx context.Context, opts model.FindOptions) ([]model.Instance, error) {
	instances, err := m.findAll(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.Instance, len(instances))
	for i, inst := range instances {
		out[i] = inst
	}
	return out, nil
}

// FindOne returns the first row matching opts, or nil when there is none
func (m *Model) FindOne(ctx context.Context, opts model.FindOptions) (model.Instance, error) {
	opts.Limit = 1
	instances, err := m.findAll(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, nil
	}
	return instances[0], nil
}

// FindByPk returns the row with the given primary key, or nil
func (m *Model) FindByPk(ctx context.Context, pk interface{}, include ...string) (model.Instance, error) {
	return m.FindOne(ctx, model.FindOptions{
		Where:   model.Conditions{m.pk: pk},
		Include: include,
	})
}

func (m *Model) findAll(ctx context.Context, opts model.FindOptions) ([]*Instance, error) {
	for _, name := range opts.Include {
		if _, ok := model.AssociationByName(m, name); !ok {
			return nil, fmt.Errorf("%s: unknown association %q", m.name, name)
		}
	}

	args := stringifiers.NewArgs(m.db.dialect)
	selectOpts := stringifiers.SelectOptions{
		TableName: m.quotedTable(),
		Columns:   m.selectColumns(),
	}

	where, err := m.where(args, opts.Where)
	if err != nil {
		return nil, err
	}
	selectOpts.Where = where

	for _, o := range opts.Order {
		col, ok := m.quotedColumn(o.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, o.Field)
		}
		dir := ast.OrderAsc
		if o.Desc {
			dir = ast.OrderDesc
		}
		selectOpts.OrderBy = append(selectOpts.OrderBy, ast.OrderByColumn{Column: col, Direction: dir})
	}
	if opts.Limit > 0 {
		selectOpts.Limit = strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		selectOpts.Offset = strconv.Itoa(opts.Offset)
	}

	query := stringifiers.NewStringBuilder(m.db.dialect).BuildSelect(selectOpts)
	instances, err := m.queryInstances(ctx, query, args.Params())
	if err != nil {
		return nil, err
	}

	for _, name := range opts.Include {
		assoc, _ := model.AssociationByName(m, name)
		if err := m.include(ctx, instances, assoc); err != nil {
			return nil, fmt.Errorf("%s: include %s: %w", m.name, name, err)
		}
	}
	return instances, nil
}

// Count returns the number of rows matching where
func (m *Model) Count(ctx context.Context, where model.Conditions) (int64, error) {
	args := stringifiers.NewArgs(m.db.dialect)
	clauses, err := m.where(args, where)
	if err != nil {
		return 0, err
	}

	query := stringifiers.NewStringBuilder(m.db.dialect).BuildSelect(stringifiers.SelectOptions{
		TableName: m.quotedTable(),
		Columns:   []string{"COUNT(*)"},
		Where:     clauses,
	})

	rows, err := m.db.query(ctx, query, args.Params())
	if err != nil {
		return 0, fmt.Errorf("%s: count: %w", m.name, err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("%s: count: %w", m.name, err)
		}
	}
	return n, rows.Err()
}

// Create inserts a row and returns it as stored
func (m *Model) Create(ctx context.Context, values model.Record) (model.Instance, error) {
	if err := m.checkRecord(values); err != nil {
		return nil, err
	}

	pkAttr := m.byName[m.pk]
	pkValue, hasPK := values[m.pk]
	if !hasPK || pkValue == nil {
		if generated, ok := newPrimaryKey(pkAttr); ok {
			values = copyRecord(values)
			values[m.pk] = generated
			pkValue, hasPK = generated, true
		}
	}

	args := stringifiers.NewArgs(m.db.dialect)
	var cols, placeholders []string
	for _, a := range m.attrs {
		v, ok := values[a.Name]
		if !ok {
			continue
		}
		if v == nil && a.PrimaryKey {
			continue
		}
		cols = append(cols, m.db.dialect.QuoteIdentifier(columnName(a)))
		placeholders = append(placeholders, args.Add(toDriverValue(a, v)))
	}

	sb := stringifiers.NewStringBuilder(m.db.dialect)
	insert := stringifiers.InsertOptions{
		TableName: m.quotedTable(),
		Columns:   cols,
		Values:    placeholders,
	}

	if m.db.dialect.SupportReturning() {
		insert.Returning = m.selectColumns()
		instances, err := m.queryInstances(ctx, sb.BuildInsert(insert), args.Params())
		if err != nil {
			return nil, fmt.Errorf("%s: create: %w", m.name, err)
		}
		if len(instances) == 0 {
			return nil, fmt.Errorf("%s: create returned no row", m.name)
		}
		return instances[0], nil
	}

	res, err := m.db.exec(ctx, sb.BuildInsert(insert), args.Params())
	if err != nil {
		return nil, fmt.Errorf("%s: create: %w", m.name, err)
	}
	if !hasPK || pkValue == nil {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("%s: create: %w", m.name, err)
		}
		pkValue = id
	}

	inst, err := m.FindByPk(ctx, pkValue)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%s: created row %v not found", m.name, pkValue)
	}
	return inst, nil
}

// Update writes values to every row matching where
func (m *Model) Update(ctx context.Context, values model.Record, where model.Conditions) (int64, error) {
	if err := m.checkRecord(values); err != nil {
		return 0, err
	}

	args := stringifiers.NewArgs(m.db.dialect)
	var set []ast.Assignment
	for _, a := range m.attrs {
		v, ok := values[a.Name]
		if !ok {
			continue
		}
		set = append(set, ast.Assignment{
			Column: m.db.dialect.QuoteIdentifier(columnName(a)),
			Value:  args.Add(toDriverValue(a, v)),
		})
	}
	if len(set) == 0 {
		return 0, nil
	}

	clauses, err := m.where(args, where)
	if err != nil {
		return 0, err
	}

	query := stringifiers.NewStringBuilder(m.db.dialect).BuildUpdate(stringifiers.UpdateOptions{
		TableName: m.quotedTable(),
		Set:       set,
		Where:     clauses,
	})
	res, err := m.db.exec(ctx, query, args.Params())
	if err != nil {
		return 0, fmt.Errorf("%s: update: %w", m.name, err)
	}
	return res.RowsAffected()
}

// Destroy deletes every row matching where
func (m *Model) Destroy(ctx context.Context, where model.Conditions) (int64, error) {
	args := stringifiers.NewArgs(m.db.dialect)
	clauses, err := m.where(args, where)
	if err != nil {
		return 0, err
	}

	query := stringifiers.NewStringBuilder(m.db.dialect).BuildDelete(stringifiers.DeleteOptions{
		TableName: m.quotedTable(),
		Where:     clauses,
	})
	res, err := m.db.exec(ctx, query, args.Params())
	if err != nil {
		return 0, fmt.Errorf("%s: destroy: %w", m.name, err)
	}
	return res.RowsAffected()
}

func (m *Model) where(args *stringifiers.Args, where model.Conditions) ([]string, error) {
	if len(where) == 0 {
		return nil, nil
	}
	clause, err := stringifiers.NewWhereBuilder(m.db.dialect, args, m.quotedColumn).Build(where)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	if clause == "" {
		return nil, nil
	}
	return []string{clause}, nil
}

func (m *Model) checkRecord(values model.Record) error {
	for k := range values {
		if _, ok := m.byName[k]; !ok {
			return fmt.Errorf("%s: %w: %s", m.name, ErrUnknownField, k)
		}
	}
	return nil
}

// queryInstances runs a statement returning full rows in attribute order
func (m *Model) queryInstances(ctx context.Context, query string, args []interface{}) ([]*Instance, error) {
	rows, err := m.db.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		values, err := m.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, &Instance{model: m, values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	return out, nil
}

func (m *Model) scan(rows *sql.Rows) (model.Record, error) {
	dest := make([]interface{}, len(m.attrs))
	for i := range dest {
		dest[i] = new(interface{})
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("%s: scan: %w", m.name, err)
	}

	record := make(model.Record, len(m.attrs))
	for i, a := range m.attrs {
		record[a.Name] = fromDriverValue(a, *(dest[i].(*interface{})))
	}
	return record, nil
}

func columnName(a model.Attribute) string {
	if a.Field != "" {
		return a.Field
	}
	return strcase.ToSnake(a.Name)
}

// toDriverValue encodes JSON-shaped values for the driver
func toDriverValue(a model.Attribute, v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}, model.Record:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(b)
	}
	return v
}

// fromDriverValue normalizes driver output for serialization
func fromDriverValue(a model.Attribute, v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch baseType(a.Type) {
	case "JSON", "JSONB":
		if s, ok := v.(string); ok {
			var decoded interface{}
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	case "BOOLEAN", "BOOL":
		switch n := v.(type) {
		case int64:
			return n != 0
		case string:
			if parsed, err := strconv.ParseBool(n); err == nil {
				return parsed
			}
		}
	}
	return v
}

func baseType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return t
}

func copyRecord(r model.Record) model.Record {
	out := make(model.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
