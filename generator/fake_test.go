package generator

import (
	"context"
	"fmt"
	"sync"

	"github.com/eddieafk/ormql/model"
)

// fakeModel records every ORM call and serves rows from memory
type fakeModel struct {
	name   string
	attrs  []model.Attribute
	assocs []model.Association

	mu    sync.Mutex
	calls []string
	rows  []model.Record
	where []model.Conditions
}

func newFakeModel(name string, attrs ...model.Attribute) *fakeModel {
	return &fakeModel{name: name, attrs: attrs}
}

func (m *fakeModel) record(call string, where model.Conditions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	m.where = append(m.where, where)
}

func (m *fakeModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeModel) lastWhere() model.Conditions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.where) == 0 {
		return nil
	}
	return m.where[len(m.where)-1]
}

func (m *fakeModel) Name() string                      { return m.name }
func (m *fakeModel) TableName() string                 { return m.name }
func (m *fakeModel) PrimaryKeyAttribute() string       { return "id" }
func (m *fakeModel) Attributes() []model.Attribute     { return m.attrs }
func (m *fakeModel) Associations() []model.Association { return m.assocs }

func (m *fakeModel) matches(where model.Conditions) []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Record
	for _, row := range m.rows {
		ok := true
		for k, v := range where {
			if !matchValue(row[k], v) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

func matchValue(have, want interface{}) bool {
	if list, ok := want.([]interface{}); ok {
		for _, item := range list {
			if fmt.Sprint(item) == fmt.Sprint(have) {
				return true
			}
		}
		return false
	}
	return fmt.Sprint(have) == fmt.Sprint(want)
}

func (m *fakeModel) FindOne(ctx context.Context, opts model.FindOptions) (model.Instance, error) {
	m.record("FindOne", opts.Where)
	rows := m.matches(opts.Where)
	if len(rows) == 0 {
		return nil, nil
	}
	return &fakeInstance{model: m, row: rows[0]}, nil
}

func (m *fakeModel) FindAll(ctx context.Context, opts model.FindOptions) ([]model.Instance, error) {
	m.record("FindAll", opts.Where)
	var out []model.Instance
	for _, row := range m.matches(opts.Where) {
		out = append(out, &fakeInstance{model: m, row: row})
	}
	return out, nil
}

func (m *fakeModel) FindByPk(ctx context.Context, pk interface{}, include ...string) (model.Instance, error) {
	return m.FindOne(ctx, model.FindOptions{Where: model.Conditions{"id": pk}, Include: include})
}

func (m *fakeModel) Count(ctx context.Context, where model.Conditions) (int64, error) {
	m.record("Count", where)
	return int64(len(m.matches(where))), nil
}

func (m *fakeModel) Create(ctx context.Context, values model.Record) (model.Instance, error) {
	m.record("Create", model.Conditions(values))
	m.mu.Lock()
	defer m.mu.Unlock()
	row := model.Record{"id": int64(len(m.rows) + 1)}
	for k, v := range values {
		row[k] = v
	}
	m.rows = append(m.rows, row)
	return &fakeInstance{model: m, row: row}, nil
}

func (m *fakeModel) Update(ctx context.Context, values model.Record, where model.Conditions) (int64, error) {
	m.record("Update", where)
	return 0, nil
}

func (m *fakeModel) Destroy(ctx context.Context, where model.Conditions) (int64, error) {
	m.record("Destroy", where)
	return 0, nil
}

type fakeInstance struct {
	model *fakeModel
	row   model.Record
}

func (i *fakeInstance) Update(ctx context.Context, values model.Record) error {
	i.model.record("Instance.Update", model.Conditions(values))
	i.model.mu.Lock()
	defer i.model.mu.Unlock()
	for k, v := range values {
		i.row[k] = v
	}
	return nil
}

func (i *fakeInstance) Destroy(ctx context.Context) error {
	i.model.record("Instance.Destroy", nil)
	i.model.mu.Lock()
	defer i.model.mu.Unlock()
	for n, row := range i.model.rows {
		if row["id"] == i.row["id"] {
			i.model.rows = append(i.model.rows[:n], i.model.rows[n+1:]...)
			break
		}
	}
	return nil
}

func (i *fakeInstance) ToJSON() model.Record {
	i.model.mu.Lock()
	defer i.model.mu.Unlock()
	out := make(model.Record, len(i.row))
	for k, v := range i.row {
		out[k] = v
	}
	return out
}
