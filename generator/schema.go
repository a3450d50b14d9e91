package generator

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"
	"go.uber.org/zap"

	"github.com/eddieafk/ormql/events"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/graph/marshal"
)

// Options configures a Generator
type Options struct {
	Whitelist []string
	Blacklist []string
	// Broker receives mutation events and feeds subscription resolvers
	Broker events.Broker
	Logger *zap.Logger
}

// Schema is the generated SDL and its resolvers
type Schema struct {
	TypeDefs  string
	Resolvers graph.ResolverTable
}

// Executable parses the SDL and attaches the resolvers and custom scalars
func (s Schema) Executable() (*graph.ExecutableSchema, error) {
	es, err := graph.NewExecutableSchema(s.TypeDefs)
	if err != nil {
		return nil, err
	}
	es.SetResolvers(graph.NewResolverMapFromTable(s.Resolvers))
	es.RegisterScalar(ScalarDateTime, graph.MarshalerFuncs{Marshal: marshal.DateTime, Unmarshal: marshal.ParseDateTime})
	es.RegisterScalar(ScalarJSON, graph.MarshalerFuncs{Marshal: marshal.JSON, Unmarshal: marshal.UnmarshalJSON})
	return es, nil
}

// Generator builds schemas from a registry
type Generator struct {
	registry *Registry
	filter   Filter
	broker   events.Broker
	logger   *zap.Logger

	mu            sync.RWMutex
	typeDefs      []string
	queries       []string
	mutations     []string
	subscriptions []string
	resolvers     graph.ResolverTable
}

// New creates a generator over reg
func New(reg *Registry, opts Options) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		registry:  reg,
		filter:    NewFilter(opts.Whitelist, opts.Blacklist),
		broker:    opts.Broker,
		logger:    logger,
		resolvers: graph.ResolverTable{},
	}
}

// Registry returns the registry the generator reads
func (g *Generator) Registry() *Registry {
	return g.registry
}

// AddTypeDefs appends SDL after the generated model types
func (g *Generator) AddTypeDefs(sdl string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.typeDefs = append(g.typeDefs, strings.TrimSpace(sdl))
}

// AddQuery appends a field definition such as "me: User" to Query
func (g *Generator) AddQuery(field string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, strings.TrimSpace(field))
}

// AddMutation appends a field definition to Mutation
func (g *Generator) AddMutation(field string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutations = append(g.mutations, strings.TrimSpace(field))
}

// AddSubscription appends a field definition to Subscription
func (g *Generator) AddSubscription(field string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions = append(g.subscriptions, strings.TrimSpace(field))
}

// AddResolvers merges extra resolvers; they win over generated ones
func (g *Generator) AddResolvers(t graph.ResolverTable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolvers.Merge(t)
}

// exposedModels normalizes every model that passes the filters, keyed by name
func (g *Generator) exposedModels() ([]modelInfo, map[string]modelInfo) {
	var infos []modelInfo
	byName := make(map[string]modelInfo)

	for _, name := range g.registry.Names() {
		cfg, ok := g.registry.Config(name)
		if !ok || cfg.Exclude {
			continue
		}
		if !g.filter.ModelAllowed(name) || g.filter.ModelBlacklisted(name) {
			continue
		}
		m, ok := g.registry.Model(name)
		if !ok {
			continue
		}

		meta := normalize(m, cfg)
		fields := meta.Fields[:0]
		for _, f := range meta.Fields {
			if g.filter.FieldAllowed(name, f.Name) {
				fields = append(fields, f)
			}
		}
		meta.Fields = fields

		if !slices.ContainsFunc(meta.Fields, func(f fieldInfo) bool { return f.InObject }) {
			g.logger.Warn("model has no exposed fields, skipping", zap.String("model", name))
			continue
		}

		infos = append(infos, meta)
		byName[name] = meta
	}

	// Relations into models that are not exposed have nothing to point at
	for i := range infos {
		fields := infos[i].Fields[:0]
		for _, f := range infos[i].Fields {
			if f.isRelation() {
				if _, ok := byName[f.RelatedModel]; !ok {
					continue
				}
			}
			fields = append(fields, f)
		}
		infos[i].Fields = fields
		byName[infos[i].Name] = infos[i]
	}

	return infos, byName
}

// GetSchema generates SDL and resolvers from the current registry. The same
// registry and options always produce the same output.
func (g *Generator) GetSchema() Schema {
	infos, byName := g.exposedModels()

	var (
		types         strings.Builder
		queries       []string
		mutations     []string
		subscriptions []string
		resolvers     = graph.ResolverTable{}
	)

	types.WriteString("scalar " + ScalarDateTime + "\n")
	types.WriteString("scalar " + ScalarJSON + "\n")

	for _, meta := range infos {
		var objectFields, inputFields []string
		for _, f := range meta.Fields {
			if f.InObject {
				related := ""
				if f.isRelation() {
					related = byName[f.RelatedModel].TypeName
				}
				objectFields = append(objectFields, fieldLine(f.Name, f.objectType(related), f.Description))
			}
			if f.InInput && !f.isRelation() && !f.Custom {
				inputFields = append(inputFields, fieldLine(f.Name, f.inputType(), ""))
			}
		}

		t := meta.TypeName
		lower := inflect.CamelizeDownFirst(t)
		input := t + "Input"

		types.WriteString("\n")
		writeDescription(&types, "", meta.Description)
		writeBlock(&types, "type "+t, objectFields)

		mutationsEnabled := meta.Operations.Mutation
		if mutationsEnabled && len(inputFields) == 0 {
			g.logger.Warn("model has no input fields, skipping mutations", zap.String("model", meta.Name))
			mutationsEnabled = false
		}
		if mutationsEnabled {
			types.WriteString("\n")
			writeBlock(&types, "input "+input, inputFields)
		}

		r := &modelResolvers{gen: g, meta: meta, byName: byName}

		if meta.Operations.Query {
			queries = append(queries,
				fmt.Sprintf("%s(id: String!): %s", lower, t),
				fmt.Sprintf("%sList(where: JSON, limit: Int, offset: Int, order: String): [%s]", lower, t),
				fmt.Sprintf("%sCount(where: JSON): Int", lower),
			)
			resolvers.Set("Query", lower, r.findOne())
			resolvers.Set("Query", lower+"List", r.findAll())
			resolvers.Set("Query", lower+"Count", r.count())
		}

		if mutationsEnabled {
			mutations = append(mutations,
				fmt.Sprintf("create%s(input: %s!): %s", t, input, t),
				fmt.Sprintf("update%s(id: String!, input: %s!): %s", t, input, t),
				fmt.Sprintf("delete%s(id: String!): Boolean", t),
			)
			resolvers.Set("Mutation", "create"+t, r.create(lower+"Created"))
			resolvers.Set("Mutation", "update"+t, r.update(lower+"Updated"))
			resolvers.Set("Mutation", "delete"+t, r.destroy(lower+"Deleted"))
		}

		if meta.Operations.Subscription {
			for _, event := range []string{"Created", "Updated", "Deleted"} {
				subscriptions = append(subscriptions, fmt.Sprintf("%s%s: %s", lower, event, t))
				resolvers.Set("Subscription", lower+event, r.subscribe(lower+event))
			}
		}

		for _, f := range meta.Fields {
			if !f.InObject {
				continue
			}
			switch {
			case f.Resolver != nil:
				resolvers.Set(t, f.Name, f.Resolver)
			case f.isRelation():
				resolvers.Set(t, f.Name, r.relation(f))
			}
		}
	}

	g.mu.RLock()
	extraTypes := append([]string(nil), g.typeDefs...)
	queries = append(queries, g.queries...)
	mutations = append(mutations, g.mutations...)
	subscriptions = append(subscriptions, g.subscriptions...)
	resolvers.Merge(g.resolvers)
	g.mu.RUnlock()

	for _, sdl := range extraTypes {
		if sdl == "" {
			continue
		}
		types.WriteString("\n" + sdl + "\n")
	}

	if len(queries) == 0 {
		queries = append(queries, "_empty: Boolean")
	}
	types.WriteString("\n")
	writeBlock(&types, "type Query", queries)
	if len(mutations) > 0 {
		types.WriteString("\n")
		writeBlock(&types, "type Mutation", mutations)
	}
	if len(subscriptions) > 0 {
		types.WriteString("\n")
		writeBlock(&types, "type Subscription", subscriptions)
	}

	return Schema{TypeDefs: types.String(), Resolvers: resolvers}
}

func fieldLine(name, typ, description string) string {
	var b strings.Builder
	writeDescription(&b, "  ", description)
	b.WriteString("  " + name + ": " + typ)
	return b.String()
}

func writeBlock(b *strings.Builder, header string, lines []string) {
	b.WriteString(header + " {\n")
	for _, line := range lines {
		if !strings.HasPrefix(line, "  ") {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("}\n")
}

func writeDescription(b *strings.Builder, indent, description string) {
	if description == "" {
		return
	}
	escaped := strings.ReplaceAll(description, `"""`, `\"""`)
	b.WriteString(indent + `"""` + escaped + `"""` + "\n")
}
