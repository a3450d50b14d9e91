package orm

import (
	"context"
	"fmt"

	"github.com/eddieafk/ormql/model"
	"github.com/eddieafk/ormql/sql/stringifiers"
)

// include loads one association for every instance with a single query per
// association (two for BelongsToMany)
func (m *Model) include(ctx context.Context, instances []*Instance, assoc model.Association) error {
	if len(instances) == 0 {
		return nil
	}

	target, ok := m.db.Model(assoc.Target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, assoc.Target)
	}

	switch assoc.Kind {
	case model.BelongsTo:
		targetKey := assoc.TargetKey
		if targetKey == "" {
			targetKey = target.pk
		}
		related, err := target.findByKeys(ctx, targetKey, distinctValues(instances, assoc.ForeignKey))
		if err != nil {
			return err
		}
		index := make(map[string]*Instance, len(related))
		for _, r := range related {
			index[keyOf(r.values[targetKey])] = r
		}
		for _, inst := range instances {
			inst.setIncluded(assoc.Name, index[keyOf(inst.values[assoc.ForeignKey])])
		}

	case model.HasOne, model.HasMany:
		related, err := target.findByKeys(ctx, assoc.ForeignKey, distinctValues(instances, assoc.SourceKey))
		if err != nil {
			return err
		}
		groups := make(map[string][]*Instance)
		for _, r := range related {
			k := keyOf(r.values[assoc.ForeignKey])
			groups[k] = append(groups[k], r)
		}
		for _, inst := range instances {
			group := groups[keyOf(inst.values[assoc.SourceKey])]
			if assoc.Kind == model.HasOne {
				var first *Instance
				if len(group) > 0 {
					first = group[0]
				}
				inst.setIncluded(assoc.Name, first)
				continue
			}
			if group == nil {
				group = []*Instance{}
			}
			inst.setIncluded(assoc.Name, group)
		}

	case model.BelongsToMany:
		return m.includeThrough(ctx, instances, assoc, target)
	}

	return nil
}

func (m *Model) includeThrough(ctx context.Context, instances []*Instance, assoc model.Association, target *Model) error {
	sourceKeys := distinctValues(instances, assoc.SourceKey)
	pairs := make(map[string][]interface{})
	var targetKeys []interface{}
	seen := make(map[string]bool)

	if len(sourceKeys) > 0 {
		d := m.db.dialect
		columns := map[string]string{
			assoc.ForeignKey: d.QuoteIdentifier(joinColumn(assoc.ForeignKey)),
			assoc.OtherKey:   d.QuoteIdentifier(joinColumn(assoc.OtherKey)),
		}
		args := stringifiers.NewArgs(d)
		where, err := stringifiers.NewWhereBuilder(d, args, func(name string) (string, bool) {
			col, ok := columns[name]
			return col, ok
		}).Build(map[string]interface{}{assoc.ForeignKey: sourceKeys})
		if err != nil {
			return err
		}

		query := stringifiers.NewStringBuilder(d).BuildSelect(stringifiers.SelectOptions{
			TableName: d.QuoteIdentifier(assoc.Through),
			Columns:   []string{columns[assoc.ForeignKey], columns[assoc.OtherKey]},
			Where:     []string{where},
		})
		rows, err := m.db.query(ctx, query, args.Params())
		if err != nil {
			return fmt.Errorf("%s: %w", assoc.Through, err)
		}
		defer rows.Close()

		for rows.Next() {
			var src, dst interface{}
			if err := rows.Scan(&src, &dst); err != nil {
				return fmt.Errorf("%s: scan: %w", assoc.Through, err)
			}
			if b, ok := dst.([]byte); ok {
				dst = string(b)
			}
			pairs[keyOf(src)] = append(pairs[keyOf(src)], dst)
			if k := keyOf(dst); !seen[k] {
				seen[k] = true
				targetKeys = append(targetKeys, dst)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
	}

	targetKey := assoc.TargetKey
	if targetKey == "" {
		targetKey = target.pk
	}
	related, err := target.findByKeys(ctx, targetKey, targetKeys)
	if err != nil {
		return err
	}
	index := make(map[string]*Instance, len(related))
	for _, r := range related {
		index[keyOf(r.values[targetKey])] = r
	}

	for _, inst := range instances {
		list := []*Instance{}
		for _, v := range pairs[keyOf(inst.values[assoc.SourceKey])] {
			if r, ok := index[keyOf(v)]; ok {
				list = append(list, r)
			}
		}
		inst.setIncluded(assoc.Name, list)
	}
	return nil
}

// findByKeys returns rows whose attr is one of keys
func (m *Model) findByKeys(ctx context.Context, attr string, keys []interface{}) ([]*Instance, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return m.findAll(ctx, model.FindOptions{Where: model.Conditions{attr: keys}})
}

func distinctValues(instances []*Instance, attr string) []interface{} {
	seen := make(map[string]bool)
	var out []interface{}
	for _, inst := range instances {
		v := inst.values[attr]
		if v == nil {
			continue
		}
		k := keyOf(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// keyOf normalizes key values so int64(7), "7" and []byte("7") collide
func keyOf(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
