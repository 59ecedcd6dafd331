package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/weavegql/weave/internal/language"
)

// FromSDL decodes GraphQL SDL with gateway directives into a Config.
func FromSDL(src string) (*Config, error) {
	doc, err := language.ParseSchema("config.graphql", src)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c := &Config{Types: map[string]*Type{}}

	for _, sd := range doc.Schema {
		for _, op := range sd.OperationTypes {
			switch op.Operation {
			case ast.Query:
				c.Schema.Query = op.Type
			case ast.Mutation:
				c.Schema.Mutation = op.Type
			}
		}
		if d := sd.Directives.ForName("server"); d != nil {
			decodeServer(&c.Server, dirArgs(d))
		}
		if d := sd.Directives.ForName("upstream"); d != nil {
			decodeUpstream(&c.Upstream, dirArgs(d))
		}
	}

	for _, def := range doc.Definitions {
		switch def.Kind {
		case ast.Object:
			t := &Type{Fields: map[string]*Field{}}
			for _, d := range def.Directives {
				if d.Name == "addField" {
					args := dirArgs(d)
					t.AddFields = append(t.AddFields, AddField{
						Name: getString(args, "name"),
						Path: getStringList(args, "path"),
					})
				}
			}
			for _, fd := range def.Fields {
				f, err := decodeField(fd)
				if err != nil {
					return nil, err
				}
				t.Fields[fd.Name] = f
			}
			c.Types[def.Name] = t

		case ast.InputObject:
			t := &Type{Input: true, Fields: map[string]*Field{}}
			for _, fd := range def.Fields {
				typ, list, req, itemReq := decodeTypeRef(fd.Type)
				t.Fields[fd.Name] = &Field{Type: typ, List: list, Required: req, ItemRequired: itemReq}
			}
			c.Types[def.Name] = t

		case ast.Enum:
			t := &Type{}
			for _, ev := range def.EnumValues {
				t.Variants = append(t.Variants, ev.Name)
			}
			c.Types[def.Name] = t
		}
	}

	if c.Schema.Query == "" {
		if _, ok := c.Types["Query"]; ok {
			c.Schema.Query = "Query"
		}
	}
	if c.Schema.Mutation == "" {
		if _, ok := c.Types["Mutation"]; ok {
			c.Schema.Mutation = "Mutation"
		}
	}
	return c, nil
}

func decodeField(fd *language.FieldDefinition) (*Field, error) {
	typ, list, req, itemReq := decodeTypeRef(fd.Type)
	f := &Field{Type: typ, List: list, Required: req, ItemRequired: itemReq}

	for _, ad := range fd.Arguments {
		aTyp, aList, aReq, _ := decodeTypeRef(ad.Type)
		arg := &Arg{Type: aTyp, List: aList, Required: aReq}
		if ad.DefaultValue != nil {
			v, err := ad.DefaultValue.Value(nil)
			if err != nil {
				return nil, fmt.Errorf("config: field %s argument %s: %w", fd.Name, ad.Name, err)
			}
			arg.Default = v
		}
		if f.Args == nil {
			f.Args = map[string]*Arg{}
		}
		f.Args[ad.Name] = arg
	}

	for _, d := range fd.Directives {
		args := dirArgs(d)
		switch d.Name {
		case "http":
			f.HTTP = &HTTP{
				URL:      getString(args, "url"),
				Path:     getString(args, "path"),
				Method:   getString(args, "method"),
				Query:    getKVList(args, "query"),
				Headers:  getKVList(args, "headers"),
				Body:     args["body"],
				GroupBy:  getStringList(args, "groupBy"),
				BatchKey: getStringList(args, "batchKey"),
				Select:   getString(args, "select"),
			}
		case "graphQL":
			f.GraphQL = &GraphQLSrc{
				URL:   getString(args, "url"),
				Name:  getString(args, "name"),
				Args:  getStringMap(args, "args"),
				Batch: getBool(args, "batch"),
			}
		case "const":
			f.Const = &Const{Data: args["data"]}
		case "expr":
			f.Expr = &ExprBody{Body: args["body"]}
		case "modify":
			f.Modify = &Modify{Name: getString(args, "name"), Omit: getBool(args, "omit")}
		case "cache":
			f.Cache = &Cache{MaxAge: getInt(args, "maxAge")}
		case "omit":
			f.Omit = true
		}
	}
	return f, nil
}

func decodeTypeRef(t *language.Type) (name string, list, required, itemRequired bool) {
	if t == nil {
		return "", false, false, false
	}
	if t.NamedType != "" {
		return t.NamedType, false, t.NonNull, false
	}
	if t.Elem != nil {
		return t.Elem.NamedType, true, t.NonNull, t.Elem.NonNull
	}
	return "", false, false, false
}

func decodeServer(s *Server, args map[string]any) {
	s.Port = getInt(args, "port")
	s.Hostname = getString(args, "hostname")
	s.Timeout = getInt(args, "timeout")
	s.QueryValidation = getBool(args, "queryValidation")
	if vars := getStringMap(args, "vars"); len(vars) > 0 {
		s.Vars = vars
	}
}

func decodeUpstream(u *Upstream, args map[string]any) {
	u.BaseURL = getString(args, "baseURL")
	u.HTTPCache = getBool(args, "httpCache")
	u.AllowedHeaders = getStringList(args, "allowedHeaders")
	u.Proxy = getString(args, "proxy")
	if b, ok := args["batch"].(map[string]any); ok {
		u.Batch = &Batch{
			Delay:   getInt(b, "delay"),
			MaxSize: getInt(b, "maxSize"),
			Headers: getStringList(b, "headers"),
		}
	}
}

func dirArgs(d *language.Directive) map[string]any {
	out := map[string]any{}
	for _, a := range d.Arguments {
		v, err := a.Value.Value(nil)
		if err != nil {
			continue
		}
		out[a.Name] = v
	}
	return out
}

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func getBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func getInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func getStringList(args map[string]any, key string) []string {
	list, ok := args[key].([]any)
	if !ok {
		if s, ok := args[key].(string); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getKVList(args map[string]any, key string) []KV {
	list, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]KV, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, KV{Key: getString(m, "key"), Value: getString(m, "value")})
		}
	}
	return out
}

func getStringMap(args map[string]any, key string) map[string]string {
	m, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// ToSDL renders the config as GraphQL SDL with directives. Types and fields
// emit in sorted order so output is deterministic.
func ToSDL(c *Config) string {
	var b strings.Builder

	b.WriteString("schema")
	writeServerDirective(&b, c.Server)
	writeUpstreamDirective(&b, c.Upstream)
	b.WriteString(" {\n")
	query := c.Schema.Query
	if query == "" {
		query = "Query"
	}
	fmt.Fprintf(&b, "  query: %s\n", query)
	if c.Schema.Mutation != "" {
		fmt.Fprintf(&b, "  mutation: %s\n", c.Schema.Mutation)
	}
	b.WriteString("}\n")

	for _, name := range c.TypeNames() {
		t := c.Types[name]
		b.WriteString("\n")
		switch {
		case len(t.Variants) > 0:
			fmt.Fprintf(&b, "enum %s {\n", name)
			for _, v := range t.Variants {
				fmt.Fprintf(&b, "  %s\n", v)
			}
			b.WriteString("}\n")
		case t.Input:
			fmt.Fprintf(&b, "input %s {\n", name)
			for _, fn := range t.FieldNames() {
				fmt.Fprintf(&b, "  %s: %s\n", fn, typeRefSDL(t.Fields[fn]))
			}
			b.WriteString("}\n")
		default:
			fmt.Fprintf(&b, "type %s", name)
			for _, af := range t.AddFields {
				fmt.Fprintf(&b, " @addField(name: %s, path: %s)", renderGraphQLValue(af.Name), renderGraphQLValue(af.Path))
			}
			b.WriteString(" {\n")
			for _, fn := range t.FieldNames() {
				writeFieldSDL(&b, fn, t.Fields[fn])
			}
			b.WriteString("}\n")
		}
	}
	return b.String()
}

func writeFieldSDL(b *strings.Builder, name string, f *Field) {
	fmt.Fprintf(b, "  %s", name)
	if len(f.Args) > 0 {
		names := make([]string, 0, len(f.Args))
		for an := range f.Args {
			names = append(names, an)
		}
		sort.Strings(names)
		b.WriteString("(")
		for i, an := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			a := f.Args[an]
			fmt.Fprintf(b, "%s: %s", an, argTypeSDL(a))
			if a.Default != nil {
				fmt.Fprintf(b, " = %s", renderGraphQLValue(a.Default))
			}
		}
		b.WriteString(")")
	}
	fmt.Fprintf(b, ": %s", typeRefSDL(f))

	if f.HTTP != nil {
		b.WriteString(" @http(")
		writeDirArgs(b,
			dirArg{"url", f.HTTP.URL}, dirArg{"path", f.HTTP.Path},
			dirArg{"method", f.HTTP.Method}, dirArg{"query", kvAny(f.HTTP.Query)},
			dirArg{"headers", kvAny(f.HTTP.Headers)}, dirArg{"body", f.HTTP.Body},
			dirArg{"groupBy", strsAny(f.HTTP.GroupBy)}, dirArg{"batchKey", strsAny(f.HTTP.BatchKey)},
			dirArg{"select", f.HTTP.Select})
		b.WriteString(")")
	}
	if f.GraphQL != nil {
		b.WriteString(" @graphQL(")
		writeDirArgs(b,
			dirArg{"url", f.GraphQL.URL}, dirArg{"name", f.GraphQL.Name},
			dirArg{"args", mapAny(f.GraphQL.Args)}, dirArg{"batch", f.GraphQL.Batch})
		b.WriteString(")")
	}
	if f.Const != nil {
		fmt.Fprintf(b, " @const(data: %s)", renderGraphQLValue(f.Const.Data))
	}
	if f.Expr != nil {
		fmt.Fprintf(b, " @expr(body: %s)", renderGraphQLValue(f.Expr.Body))
	}
	if f.Modify != nil {
		b.WriteString(" @modify(")
		writeDirArgs(b, dirArg{"name", f.Modify.Name}, dirArg{"omit", f.Modify.Omit})
		b.WriteString(")")
	}
	if f.Cache != nil {
		fmt.Fprintf(b, " @cache(maxAge: %d)", f.Cache.MaxAge)
	}
	if f.Omit {
		b.WriteString(" @omit")
	}
	b.WriteString("\n")
}

type dirArg struct {
	name  string
	value any
}

func writeDirArgs(b *strings.Builder, args ...dirArg) {
	first := true
	for _, a := range args {
		if isZeroArg(a.value) {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(b, "%s: %s", a.name, renderGraphQLValue(a.value))
	}
}

func isZeroArg(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func kvAny(kvs []KV) []any {
	out := make([]any, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, map[string]any{"key": kv.Key, "value": kv.Value})
	}
	return out
}

func strsAny(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}

func mapAny(m map[string]string) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		out[k] = v
	}
	return out
}

func typeRefSDL(f *Field) string {
	if f.List {
		inner := f.Type
		if f.ItemRequired {
			inner += "!"
		}
		s := "[" + inner + "]"
		if f.Required {
			s += "!"
		}
		return s
	}
	s := f.Type
	if f.Required {
		s += "!"
	}
	return s
}

func argTypeSDL(a *Arg) string {
	s := a.Type
	if a.List {
		s = "[" + s + "]"
	}
	if a.Required {
		s += "!"
	}
	return s
}

// renderGraphQLValue renders a Go value as a GraphQL literal. Object keys
// emit unquoted, sorted.
func renderGraphQLValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []string:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = strconv.Quote(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = renderGraphQLValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderGraphQLValue(t[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return strconv.Quote(fmt.Sprintf("%v", v))
}

func writeServerDirective(b *strings.Builder, s Server) {
	if s.Port == 0 && s.Hostname == "" && s.Timeout == 0 && len(s.Vars) == 0 && !s.QueryValidation {
		return
	}
	b.WriteString(" @server(")
	writeDirArgs(b,
		dirArg{"port", intAny(s.Port)}, dirArg{"hostname", s.Hostname},
		dirArg{"timeout", intAny(s.Timeout)}, dirArg{"vars", mapAny(s.Vars)},
		dirArg{"queryValidation", s.QueryValidation})
	b.WriteString(")")
}

func writeUpstreamDirective(b *strings.Builder, u Upstream) {
	if u.BaseURL == "" && !u.HTTPCache && len(u.AllowedHeaders) == 0 && u.Batch == nil && u.Proxy == "" {
		return
	}
	b.WriteString(" @upstream(")
	batch := map[string]any{}
	if u.Batch != nil {
		if u.Batch.Delay > 0 {
			batch["delay"] = u.Batch.Delay
		}
		if u.Batch.MaxSize > 0 {
			batch["maxSize"] = u.Batch.MaxSize
		}
		if len(u.Batch.Headers) > 0 {
			batch["headers"] = strsAny(u.Batch.Headers)
		}
	}
	writeDirArgs(b,
		dirArg{"baseURL", u.BaseURL}, dirArg{"httpCache", u.HTTPCache},
		dirArg{"allowedHeaders", strsAny(u.AllowedHeaders)},
		dirArg{"batch", batch}, dirArg{"proxy", u.Proxy})
	b.WriteString(")")
}

func intAny(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
