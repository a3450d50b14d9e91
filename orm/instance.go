package orm

import (
	"context"
	"fmt"

	"github.com/eddieafk/ormql/model"
)

// Instance is a loaded row together with any included associations
type Instance struct {
	model    *Model
	values   model.Record
	included map[string]interface{} // *Instance, []*Instance or nil
}

var _ model.Instance = (*Instance)(nil)

// Get returns an attribute value
func (i *Instance) Get(name string) interface{} {
	return i.values[name]
}

// Model returns the model the row belongs to
func (i *Instance) Model() *Model {
	return i.model
}

func (i *Instance) setIncluded(name string, v interface{}) {
	if i.included == nil {
		i.included = make(map[string]interface{})
	}
	i.included[name] = v
}

// Update writes values to this row and reloads it
func (i *Instance) Update(ctx context.Context, values model.Record) error {
	pk := i.model.pk
	key := i.values[pk]

	if _, err := i.model.Update(ctx, values, model.Conditions{pk: key}); err != nil {
		return err
	}
	if v, ok := values[pk]; ok && v != nil {
		key = v
	}

	fresh, err := i.model.findAll(ctx, model.FindOptions{Where: model.Conditions{pk: key}, Limit: 1})
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		return fmt.Errorf("%s %v: row disappeared during update", i.model.name, key)
	}
	i.values = fresh[0].values
	return nil
}

// Destroy deletes this row
func (i *Instance) Destroy(ctx context.Context) error {
	pk := i.model.pk
	_, err := i.model.Destroy(ctx, model.Conditions{pk: i.values[pk]})
	return err
}

// ToJSON returns a detached copy of the row. Included associations appear
// under their association name as a Record, a []Record or nil.
func (i *Instance) ToJSON() model.Record {
	out := copyRecord(i.values)
	for name, v := range i.included {
		switch rel := v.(type) {
		case *Instance:
			if rel == nil {
				out[name] = nil
			} else {
				out[name] = rel.ToJSON()
			}
		case []*Instance:
			list := make([]model.Record, len(rel))
			for j, r := range rel {
				list[j] = r.ToJSON()
			}
			out[name] = list
		default:
			out[name] = nil
		}
	}
	return out
}
