package config

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/expr"
)

// ConfigError is a single compile-time validation failure, located by the
// config element that caused it.
type ConfigError struct {
	Location string
	Message  string
}

func (e *ConfigError) Error() string { return e.Location + ": " + e.Message }

// CompileErrors collects every validation failure of a compile pass so that
// users see all problems at once.
type CompileErrors []*ConfigError

func (errs CompileErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "config: " + strings.Join(msgs, "; ")
}

// Compile validates the config and lowers it into an immutable blueprint.
// All validation failures are collected and returned together.
func Compile(cfg *Config) (*blueprint.Blueprint, error) {
	cc := &compiler{
		cfg: cfg,
		bp:  &blueprint.Blueprint{Types: map[string]*blueprint.Type{}},
	}
	cc.compileServer()
	cc.compileUpstream()
	cc.compileTypes()
	cc.compileRoots()
	if len(cc.errs) > 0 {
		return nil, cc.errs
	}
	return cc.bp.WithBuiltins(), nil
}

type compiler struct {
	cfg  *Config
	bp   *blueprint.Blueprint
	errs CompileErrors
	base *url.URL
}

func (cc *compiler) errorf(location, format string, args ...any) {
	cc.errs = append(cc.errs, &ConfigError{Location: location, Message: fmt.Sprintf(format, args...)})
}

func (cc *compiler) compileServer() {
	s := cc.cfg.Server

	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		cc.errorf("server.port", "invalid port %d", port)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	cc.bp.Server = blueprint.ServerOptions{
		Port:            port,
		Hostname:        s.Hostname,
		Timeout:         time.Duration(timeout) * time.Millisecond,
		QueryValidation: s.QueryValidation,
	}
	if len(s.Vars) > 0 {
		cc.bp.Vars = map[string]string{}
		for k, v := range s.Vars {
			cc.bp.Vars[k] = v
		}
	}
}

func (cc *compiler) compileUpstream() {
	u := cc.cfg.Upstream

	if u.BaseURL != "" {
		parsed, err := url.Parse(u.BaseURL)
		if err != nil || parsed.Host == "" {
			cc.errorf("upstream.baseURL", "invalid base URL %q", u.BaseURL)
		} else {
			cc.base = parsed
		}
	}

	batch := blueprint.BatchOptions{Delay: DefaultBatchDelay * time.Millisecond}
	if u.Batch != nil {
		if u.Batch.Delay > 0 {
			batch.Delay = time.Duration(u.Batch.Delay) * time.Millisecond
		}
		batch.MaxSize = u.Batch.MaxSize
		batch.Headers = append([]string(nil), u.Batch.Headers...)
	}

	cc.bp.Upstream = blueprint.UpstreamOptions{
		BaseURL:        u.BaseURL,
		HTTPCache:      u.HTTPCache,
		AllowedHeaders: append([]string(nil), u.AllowedHeaders...),
		Batch:          batch,
		Proxy:          u.Proxy,
	}
}

func (cc *compiler) compileRoots() {
	query := cc.cfg.Schema.Query
	if query == "" {
		query = "Query"
	}
	if t, ok := cc.cfg.Types[query]; !ok || t.Input || len(t.Variants) > 0 {
		cc.errorf("schema.query", "query root %q is not an object type", query)
	}
	cc.bp.QueryType = query

	if m := cc.cfg.Schema.Mutation; m != "" {
		if t, ok := cc.cfg.Types[m]; !ok || t.Input || len(t.Variants) > 0 {
			cc.errorf("schema.mutation", "mutation root %q is not an object type", m)
		}
		cc.bp.MutationType = m
	} else if _, ok := cc.cfg.Types["Mutation"]; ok {
		cc.bp.MutationType = "Mutation"
	}
}

func (cc *compiler) compileTypes() {
	for _, name := range cc.cfg.TypeNames() {
		t := cc.cfg.Types[name]
		switch {
		case len(t.Variants) > 0:
			cc.bp.Types[name] = &blueprint.Type{
				Name:       name,
				Kind:       blueprint.KindEnum,
				EnumValues: append([]string(nil), t.Variants...),
			}
		case t.Input:
			cc.bp.Types[name] = &blueprint.Type{
				Name:   name,
				Kind:   blueprint.KindInputObject,
				Inputs: cc.compileInputs(name, t),
			}
		default:
			cc.bp.Types[name] = cc.compileObject(name, t)
		}
	}
}

func (cc *compiler) compileInputs(typeName string, t *Type) []*blueprint.Argument {
	inputs := make([]*blueprint.Argument, 0, len(t.Fields))
	for _, fn := range t.FieldNames() {
		f := t.Fields[fn]
		cc.checkTypeKnown(typeName+"."+fn, f.Type)
		inputs = append(inputs, &blueprint.Argument{
			Name: fn,
			Type: buildTypeRef(f.Type, f.List, f.Required, f.ItemRequired),
		})
	}
	return inputs
}

func (cc *compiler) compileObject(name string, t *Type) *blueprint.Type {
	out := &blueprint.Type{Name: name, Kind: blueprint.KindObject}
	for _, fn := range t.FieldNames() {
		f := t.Fields[fn]
		if f.Omit || (f.Modify != nil && f.Modify.Omit) {
			continue
		}
		exposed := fn
		if f.Modify != nil && f.Modify.Name != "" {
			exposed = f.Modify.Name
		}
		out.Fields = append(out.Fields, cc.compileField(name, fn, exposed, f))
	}
	for _, af := range t.AddFields {
		out.Fields = append(out.Fields, cc.compileAddField(name, af))
	}
	return out
}

func (cc *compiler) compileField(typeName, name, exposed string, f *Field) *blueprint.Field {
	loc := typeName + "." + name
	cc.checkTypeKnown(loc, f.Type)

	bf := &blueprint.Field{
		Name: exposed,
		Type: buildTypeRef(f.Type, f.List, f.Required, f.ItemRequired),
		Args: cc.compileArgs(loc, f.Args),
	}
	if f.Cache != nil {
		bf.Cache = &blueprint.CacheHint{MaxAge: time.Duration(f.Cache.MaxAge) * time.Millisecond}
	}

	sources := 0
	for _, set := range []bool{f.HTTP != nil, f.GraphQL != nil, f.Const != nil, f.Expr != nil} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		cc.errorf(loc, "at most one of @http, @graphQL, @const, @expr is allowed")
		return bf
	}

	switch {
	case f.HTTP != nil:
		ep, group := cc.compileHTTP(loc, f, f.HTTP)
		if ep == nil {
			return bf
		}
		var resolver expr.Expr = expr.EndpointCall{Endpoint: ep, Group: group}
		if f.HTTP.Select != "" {
			resolver = expr.Compose(resolver, expr.Select{Path: selectPath(f.HTTP.Select)})
		}
		bf.Resolver = resolver
		bf.Group = group
	case f.GraphQL != nil:
		ep, group, rootField := cc.compileGraphQL(loc, typeName, name, f, f.GraphQL)
		if ep == nil {
			return bf
		}
		// The upstream reply nests the payload under data.<field>.
		bf.Resolver = expr.Compose(
			expr.EndpointCall{Endpoint: ep, Group: group},
			expr.Select{Path: "data." + rootField},
		)
		bf.Group = group
	case f.Const != nil:
		bf.Resolver = expr.Literal{Value: dynamic.FromAny(f.Const.Data)}
	case f.Expr != nil:
		bf.Resolver = expr.Render{Template: dynamic.FromAny(f.Expr.Body)}
	}
	return bf
}

func (cc *compiler) compileArgs(loc string, args map[string]*Arg) []*blueprint.Argument {
	if len(args) == 0 {
		return nil
	}
	names := make([]string, 0, len(args))
	for n := range args {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]*blueprint.Argument, 0, len(names))
	for _, n := range names {
		a := args[n]
		cc.checkTypeKnown(loc+"("+n+")", a.Type)
		ba := &blueprint.Argument{Name: n, Type: buildTypeRef(a.Type, a.List, a.Required, false)}
		if a.Default != nil {
			ba.Default = dynamic.FromAny(a.Default)
		}
		out = append(out, ba)
	}
	return out
}

func (cc *compiler) compileHTTP(loc string, f *Field, h *HTTP) (*endpoint.Endpoint, *expr.Group) {
	base := cc.base
	if h.URL != "" {
		parsed, err := url.Parse(h.URL)
		if err != nil || parsed.Host == "" {
			cc.errorf(loc, "invalid url %q", h.URL)
			return nil, nil
		}
		base = parsed
	}
	if base == nil {
		cc.errorf(loc, "@http needs url or upstream.baseURL")
		return nil, nil
	}

	path := h.Path
	if path == "" {
		path = base.Path
	} else if base.Path != "" && base.Path != "/" {
		path = strings.TrimSuffix(base.Path, "/") + path
	}

	method := h.Method
	if method == "" {
		method = DefaultMethod
	}

	ep := &endpoint.Endpoint{
		Method: method,
		Scheme: base.Scheme,
		Host:   base.Hostname(),
		Path:   path,
	}
	if p := base.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			cc.errorf(loc, "invalid port in %q", base.String())
		}
		ep.Port = n
	}
	for _, kv := range h.Query {
		ep.Query = append(ep.Query, endpoint.Param{Key: kv.Key, Value: kv.Value})
	}
	for _, kv := range h.Headers {
		ep.Headers = append(ep.Headers, endpoint.Param{Key: kv.Key, Value: kv.Value})
	}
	if h.Body != nil {
		ep.BodyTemplate = dynamic.FromAny(h.Body)
	}
	if f.Cache != nil {
		ep.CacheMaxAge = time.Duration(f.Cache.MaxAge) * time.Millisecond
	}
	if method == http.MethodGet && h.Body != nil {
		cc.errorf(loc, "@http body is not allowed with method GET")
	}
	if err := ep.Validate(); err != nil {
		cc.errorf(loc, "%s", err)
		return nil, nil
	}

	var group *expr.Group
	if len(h.GroupBy) > 0 {
		key := h.GroupBy[len(h.GroupBy)-1]
		// The group parameter is reserved: exactly one templated query entry
		// carries the per-caller value, duplicates are rejected.
		seen := 0
		for _, kv := range h.Query {
			if kv.Key == key {
				seen++
			}
		}
		if seen > 1 {
			cc.errorf(loc, "query parameter %q is reserved by groupBy and may appear only once", key)
		}
		batchKey := h.BatchKey
		if len(batchKey) == 0 {
			batchKey = h.GroupBy
		}
		group = &expr.Group{
			Key:        key,
			BatchKey:   append([]string(nil), batchKey...),
			ExpectList: f.List,
		}
	}
	return ep, group
}

func (cc *compiler) compileGraphQL(loc, typeName, fieldName string, f *Field, g *GraphQLSrc) (*endpoint.Endpoint, *expr.Group, string) {
	base := cc.base
	if g.URL != "" {
		parsed, err := url.Parse(g.URL)
		if err != nil || parsed.Host == "" {
			cc.errorf(loc, "invalid url %q", g.URL)
			return nil, nil, ""
		}
		base = parsed
	}
	if base == nil {
		cc.errorf(loc, "@graphQL needs url or upstream.baseURL")
		return nil, nil, ""
	}

	rootField := g.Name
	if rootField == "" {
		rootField = fieldName
	}

	operation := "query"
	mutationRoot := cc.cfg.Schema.Mutation
	if mutationRoot == "" {
		mutationRoot = "Mutation"
	}
	if typeName == mutationRoot {
		operation = "mutation"
	}

	query := cc.renderUpstreamQuery(loc, operation, rootField, g.Args, f.Type)

	ep := &endpoint.Endpoint{
		Method: http.MethodPost,
		Scheme: base.Scheme,
		Host:   base.Hostname(),
		Path:   base.Path,
		BodyTemplate: dynamic.RecordOf(
			"query", dynamic.String(query),
		),
	}
	if p := base.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			cc.errorf(loc, "invalid port in %q", base.String())
		}
		ep.Port = n
	}
	if err := ep.Validate(); err != nil {
		cc.errorf(loc, "%s", err)
		return nil, nil, ""
	}

	var group *expr.Group
	if g.Batch {
		// An empty key selects the positional body-array batch mode.
		group = &expr.Group{ExpectList: f.List}
	}
	return ep, group, rootField
}

// renderUpstreamQuery builds the forwarded query text at compile time. The
// selection covers the output type's fields; argument values stay as mustache
// templates and render per request.
func (cc *compiler) renderUpstreamQuery(loc, operation, rootField string, args map[string]string, outputType string) string {
	var b strings.Builder
	b.WriteString(operation)
	b.WriteString(" { ")
	b.WriteString(rootField)
	if len(args) > 0 {
		names := make([]string, 0, len(args))
		for n := range args {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("(")
		for i, n := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(n)
			b.WriteString(": ")
			b.WriteString(args[n])
		}
		b.WriteString(")")
	}
	if sel := cc.selectionForType(outputType, map[string]bool{}); sel != "" {
		b.WriteString(" ")
		b.WriteString(sel)
	}
	b.WriteString(" }")
	return b.String()
}

func (cc *compiler) selectionForType(name string, seen map[string]bool) string {
	t, ok := cc.cfg.Types[name]
	if !ok || t.Input || len(t.Variants) > 0 || seen[name] {
		return ""
	}
	seen[name] = true
	defer delete(seen, name)

	var parts []string
	for _, fn := range t.FieldNames() {
		f := t.Fields[fn]
		if f.Omit || (f.Modify != nil && f.Modify.Omit) {
			continue
		}
		if sub := cc.selectionForType(f.Type, seen); sub != "" {
			parts = append(parts, fn+" "+sub)
		} else if _, isObject := cc.cfg.Types[f.Type]; !isObject || len(cc.cfg.Types[f.Type].Variants) > 0 {
			parts = append(parts, fn)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

// compileAddField lifts a nested value into a top-level field. The resolver
// projects the parent value along the configured path.
func (cc *compiler) compileAddField(typeName string, af AddField) *blueprint.Field {
	loc := typeName + ".@addField(" + af.Name + ")"
	ref := cc.pathType(loc, typeName, af.Path)

	segments := append([]string{"value"}, af.Path...)
	return &blueprint.Field{
		Name: af.Name,
		Type: ref,
		Resolver: expr.Fold{
			Value:    expr.PathExpr{Segments: segments},
			NoneCase: expr.Literal{Value: dynamic.Null{}},
			SomeCase: expr.Identity{},
		},
	}
}

// pathType walks the config types along a projection path to find the lifted
// field's declared type. Numeric segments index into lists.
func (cc *compiler) pathType(loc, typeName string, path []string) *blueprint.TypeRef {
	if len(path) == 0 {
		cc.errorf(loc, "path is required")
		return blueprint.Named("JSON")
	}
	cur := typeName
	var ref *blueprint.TypeRef
	for _, seg := range path {
		if _, err := strconv.Atoi(seg); err == nil {
			if ref != nil && ref.NonNull {
				ref = ref.Unwrap()
			}
			if ref == nil || ref.Elem == nil {
				cc.errorf(loc, "path indexes into a non-list at %q", seg)
				return blueprint.Named("JSON")
			}
			ref = ref.Elem
			cur = ref.NamedType()
			continue
		}
		t, ok := cc.cfg.Types[cur]
		if !ok {
			cc.errorf(loc, "type %q not found on path", cur)
			return blueprint.Named("JSON")
		}
		f, ok := t.Fields[seg]
		if !ok {
			cc.errorf(loc, "field %q not found on type %s", seg, cur)
			return blueprint.Named("JSON")
		}
		ref = buildTypeRef(f.Type, f.List, f.Required, f.ItemRequired)
		cur = f.Type
	}
	// The projection yields null when any step is missing.
	if ref.NonNull {
		ref = ref.Unwrap()
	}
	return ref
}

func (cc *compiler) checkTypeKnown(loc, name string) {
	if name == "" {
		cc.errorf(loc, "type is required")
		return
	}
	if _, ok := cc.cfg.Types[name]; ok {
		return
	}
	for _, s := range blueprint.BuiltinScalars {
		if s == name {
			return
		}
	}
	cc.errorf(loc, "unknown type %q", name)
}

func buildTypeRef(name string, list, required, itemRequired bool) *blueprint.TypeRef {
	inner := blueprint.Named(name)
	if !list {
		if required {
			inner = blueprint.NonNull(inner)
		}
		return inner
	}
	if itemRequired {
		inner = blueprint.NonNull(inner)
	}
	ref := blueprint.ListOf(inner)
	if required {
		ref = blueprint.NonNull(ref)
	}
	return ref
}

// selectPath turns a `select: "{{.company}}"` template into a gjson path.
func selectPath(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{{")
	s = strings.TrimSuffix(s, "}}")
	s = strings.TrimSpace(s)
	return strings.TrimPrefix(s, ".")
}
