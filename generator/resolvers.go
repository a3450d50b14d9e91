package generator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"go.uber.org/zap"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/events"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/graph/marshal"
	"github.com/eddieafk/ormql/model"
)

// ErrNotFound is matched by NotFoundError
var ErrNotFound = errors.New("not found")

// NotFoundError is returned when an update targets a missing row
type NotFoundError struct {
	Model string
	ID    interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Model, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Extensions tags the GraphQL error
func (e *NotFoundError) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": "NOT_FOUND"}
}

// modelResolvers builds the resolvers of one exposed model
type modelResolvers struct {
	gen    *Generator
	meta   modelInfo
	byName map[string]modelInfo
}

// model looks the model up at call time
func (r *modelResolvers) model() (model.Model, bool) {
	return r.gen.registry.Model(r.meta.Name)
}

func (r *modelResolvers) authorize(ctx context.Context, where model.Conditions, op auth.Operation) (model.Conditions, error) {
	if !r.meta.AuthRequired {
		return where, nil
	}
	return auth.Authorize(ctx, r.meta.Name, r.meta.AuthHandler, where, op)
}

func (r *modelResolvers) wrap(op string, err error) error {
	return fmt.Errorf("%s %s: %w", op, r.meta.Name, err)
}

// includes lists the selected relation fields that can be eager loaded
func (r *modelResolvers) includes(ctx context.Context) []string {
	info := graph.GetResolveInfo(ctx)
	if info == nil || info.Selection == nil {
		return nil
	}

	selected := make(map[string]bool)
	for _, f := range info.Selection.Fields {
		selected[f.Name] = true
	}

	var out []string
	for _, f := range r.meta.Fields {
		if f.isRelation() && f.InObject && f.Resolver == nil && selected[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out
}

// primaryKey converts the String! id argument to the key's native form
func (r *modelResolvers) primaryKey(m model.Model, args map[string]interface{}) (interface{}, error) {
	id, err := marshal.UnmarshalID(args["id"])
	if err != nil {
		return nil, err
	}
	if a, ok := model.AttributeByName(m, m.PrimaryKeyAttribute()); ok && ScalarFor(a.Type) == "Int" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n, nil
		}
	}
	return id, nil
}

func (r *modelResolvers) publish(ctx context.Context, topic string, payload model.Record) {
	if r.gen.broker == nil {
		return
	}
	if err := r.gen.broker.Publish(ctx, topic, payload); err != nil {
		r.gen.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (r *modelResolvers) findOne() graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		m, ok := r.model()
		if !ok {
			return nil, nil
		}

		pk, err := r.primaryKey(m, args)
		if err != nil {
			return nil, err
		}
		where, err := r.authorize(ctx, model.Conditions{m.PrimaryKeyAttribute(): pk}, auth.OpQuery)
		if err != nil {
			return nil, err
		}

		inst, err := m.FindOne(ctx, model.FindOptions{Where: where, Include: r.includes(ctx)})
		if err != nil {
			return nil, r.wrap("find", err)
		}
		if inst == nil {
			return nil, nil
		}
		return inst.ToJSON(), nil
	}
}

func (r *modelResolvers) findAll() graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		m, ok := r.model()
		if !ok {
			return []interface{}{}, nil
		}

		opts, err := listOptions(args)
		if err != nil {
			return nil, err
		}
		opts.Where, err = r.authorize(ctx, opts.Where, auth.OpQuery)
		if err != nil {
			return nil, err
		}
		opts.Include = r.includes(ctx)

		instances, err := m.FindAll(ctx, opts)
		if err != nil {
			return nil, r.wrap("list", err)
		}
		out := make([]interface{}, len(instances))
		for i, inst := range instances {
			out[i] = inst.ToJSON()
		}
		return out, nil
	}
}

func (r *modelResolvers) count() graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		m, ok := r.model()
		if !ok {
			return 0, nil
		}

		where, err := marshal.UnmarshalMap(args["where"])
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		cond, err := r.authorize(ctx, model.Conditions(where), auth.OpQuery)
		if err != nil {
			return nil, err
		}

		n, err := m.Count(ctx, cond)
		if err != nil {
			return nil, r.wrap("count", err)
		}
		return n, nil
	}
}

// create passes the input to the hook as its conditions; keys the hook
// returns overwrite the input values
func (r *modelResolvers) create(topic string) graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		m, ok := r.model()
		if !ok {
			return nil, nil
		}

		input, err := marshal.UnmarshalMap(args["input"])
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		values, err := r.authorize(ctx, model.Conditions(input), auth.OpCreate)
		if err != nil {
			return nil, err
		}

		inst, err := m.Create(ctx, model.Record(values))
		if err != nil {
			return nil, r.wrap("create", err)
		}
		out := inst.ToJSON()
		r.publish(ctx, topic, out)
		return out, nil
	}
}

func (r *modelResolvers) update(topic string) graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		m, ok := r.model()
		if !ok {
			return nil, nil
		}

		pk, err := r.primaryKey(m, args)
		if err != nil {
			return nil, err
		}
		input, err := marshal.UnmarshalMap(args["input"])
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}

		pkName := m.PrimaryKeyAttribute()
		where, err := r.authorize(ctx, model.Conditions{pkName: pk}, auth.OpUpdate)
		if err != nil {
			return nil, err
		}

		inst, err := m.FindOne(ctx, model.FindOptions{Where: where})
		if err != nil {
			return nil, r.wrap("update", err)
		}
		if inst == nil {
			return nil, &NotFoundError{Model: r.meta.Name, ID: pk}
		}

		values := model.Record(input)
		pinConditions(values, where, pkName)
		if err := inst.Update(ctx, values); err != nil {
			return nil, r.wrap("update", err)
		}
		out := inst.ToJSON()
		r.publish(ctx, topic, out)
		return out, nil
	}
}

func (r *modelResolvers) destroy(topic string) graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		m, ok := r.model()
		if !ok {
			return false, nil
		}

		pk, err := r.primaryKey(m, args)
		if err != nil {
			return nil, err
		}
		where, err := r.authorize(ctx, model.Conditions{m.PrimaryKeyAttribute(): pk}, auth.OpDelete)
		if err != nil {
			return nil, err
		}

		inst, err := m.FindOne(ctx, model.FindOptions{Where: where})
		if err != nil {
			return nil, r.wrap("delete", err)
		}
		if inst == nil {
			return false, nil
		}

		out := inst.ToJSON()
		if err := inst.Destroy(ctx); err != nil {
			return nil, r.wrap("delete", err)
		}
		r.publish(ctx, topic, out)
		return true, nil
	}
}

func (r *modelResolvers) subscribe(topic string) graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		if r.gen.broker == nil {
			return nil, errors.New("subscriptions are not enabled")
		}
		where, err := r.authorize(ctx, model.Conditions{}, auth.OpQuery)
		if err != nil {
			return nil, err
		}
		return events.NextMatch(ctx, r.gen.broker, topic, func(payload interface{}) (bool, error) {
			return r.visible(ctx, where, payload)
		})
	}
}

// visible reports whether an event payload lies inside where. Scalar and
// list conditions are checked against the payload itself; operator maps are
// checked against the stored row, so a payload whose row is gone is dropped.
func (r *modelResolvers) visible(ctx context.Context, where model.Conditions, payload interface{}) (bool, error) {
	rec, ok := asRecord(payload)
	if !ok {
		return false, nil
	}

	recheck := false
	for k, want := range where {
		switch reflect.ValueOf(want).Kind() {
		case reflect.Map:
			recheck = true
		case reflect.Slice, reflect.Array:
			if !containsValue(want, rec[k]) {
				return false, nil
			}
		default:
			if !sameValue(rec[k], want) {
				return false, nil
			}
		}
	}
	if !recheck {
		return true, nil
	}

	m, ok := r.model()
	if !ok {
		return false, nil
	}
	pkName := m.PrimaryKeyAttribute()
	pk, ok := rec[pkName]
	if !ok || pk == nil {
		return false, nil
	}
	inst, err := m.FindOne(ctx, model.FindOptions{Where: model.MergeConditions(model.Conditions{pkName: pk}, where)})
	if err != nil {
		return false, r.wrap("authorize event of", err)
	}
	return inst != nil, nil
}

// sameValue compares a payload value with a condition value. Rows and
// hooks disagree on numeric widths, so both sides compare in printed form.
func sameValue(have, want interface{}) bool {
	if have == nil || want == nil {
		return have == nil && want == nil
	}
	return fmt.Sprint(have) == fmt.Sprint(want)
}

func containsValue(list, have interface{}) bool {
	v := reflect.ValueOf(list)
	for i := 0; i < v.Len(); i++ {
		if sameValue(have, v.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// relation returns eager-loaded data from the parent record, or re-fetches
// the parent with the association included
func (r *modelResolvers) relation(f fieldInfo) graph.ResolverFunc {
	return func(ctx context.Context, parent interface{}, args map[string]interface{}) (interface{}, error) {
		rec, ok := asRecord(parent)
		if !ok {
			return emptyRelation(f), nil
		}

		value, loaded := rec[f.Name]
		if !loaded {
			owner, ok := r.model()
			if !ok {
				return emptyRelation(f), nil
			}
			pk := rec[owner.PrimaryKeyAttribute()]
			if pk == nil {
				return emptyRelation(f), nil
			}

			inst, err := owner.FindByPk(ctx, pk, f.Name)
			if err != nil {
				return nil, r.wrap("load "+f.Name+" of", err)
			}
			if inst == nil {
				return emptyRelation(f), nil
			}
			value = inst.ToJSON()[f.Name]
		}

		return r.restrict(ctx, f, value)
	}
}

// restrict drops related records the related model's hook does not allow.
// Related models without authorization are returned unchanged.
func (r *modelResolvers) restrict(ctx context.Context, f fieldInfo, value interface{}) (interface{}, error) {
	target, ok := r.byName[f.RelatedModel]
	if !ok || !target.AuthRequired {
		return value, nil
	}
	tm, ok := r.gen.registry.Model(f.RelatedModel)
	if !ok {
		return emptyRelation(f), nil
	}

	records := toRecords(value)
	if len(records) == 0 {
		return value, nil
	}

	pkName := tm.PrimaryKeyAttribute()
	keys := make([]interface{}, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec[pkName])
	}

	where, err := auth.Authorize(ctx, target.Name, target.AuthHandler, model.Conditions{pkName: keys}, auth.OpQuery)
	if err != nil {
		return nil, err
	}
	allowed, err := tm.FindAll(ctx, model.FindOptions{Where: where})
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", f.Name, err)
	}

	visible := make(map[string]bool, len(allowed))
	for _, inst := range allowed {
		visible[fmt.Sprint(inst.ToJSON()[pkName])] = true
	}

	kept := make([]interface{}, 0, len(records))
	for _, rec := range records {
		if visible[fmt.Sprint(rec[pkName])] {
			kept = append(kept, rec)
		}
	}

	if !f.List {
		if len(kept) == 0 {
			return nil, nil
		}
		return kept[0], nil
	}
	return kept, nil
}

func listOptions(args map[string]interface{}) (model.FindOptions, error) {
	var opts model.FindOptions

	where, err := marshal.UnmarshalMap(args["where"])
	if err != nil {
		return opts, fmt.Errorf("where: %w", err)
	}
	opts.Where = model.Conditions(where)

	if v := args["limit"]; v != nil {
		if opts.Limit, err = marshal.UnmarshalInt(v); err != nil {
			return opts, fmt.Errorf("limit: %w", err)
		}
	}
	if v := args["offset"]; v != nil {
		if opts.Offset, err = marshal.UnmarshalInt(v); err != nil {
			return opts, fmt.Errorf("offset: %w", err)
		}
	}
	if v, ok := args["order"].(string); ok {
		if opts.Order, err = model.ParseOrder(v); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// pinConditions copies scalar conditions other than the primary key into
// values so an update cannot move a row out of the caller's scope
func pinConditions(values model.Record, where model.Conditions, pk string) {
	for k, v := range where {
		if k == pk {
			continue
		}
		if _, set := values[k]; !set {
			continue
		}
		switch reflect.ValueOf(v).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array:
			continue
		}
		values[k] = v
	}
}

func asRecord(v interface{}) (model.Record, bool) {
	switch rec := v.(type) {
	case model.Record:
		return rec, rec != nil
	case map[string]interface{}:
		return model.Record(rec), rec != nil
	}
	return nil, false
}

func toRecords(v interface{}) []model.Record {
	switch val := v.(type) {
	case model.Record, map[string]interface{}:
		rec, _ := asRecord(val)
		return []model.Record{rec}
	case []model.Record:
		return val
	case []interface{}:
		out := make([]model.Record, 0, len(val))
		for _, item := range val {
			if rec, ok := asRecord(item); ok {
				out = append(out, rec)
			}
		}
		return out
	}
	return nil
}

func emptyRelation(f fieldInfo) interface{} {
	if f.List {
		return []interface{}{}
	}
	return nil
}
