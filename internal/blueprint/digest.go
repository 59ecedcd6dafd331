package blueprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/weavegql/weave/internal/dynamic"
	"github.com/weavegql/weave/internal/endpoint"
	"github.com/weavegql/weave/internal/expr"
)

// Digest identifies a blueprint by the SHA-256 of its canonical JSON
// encoding.
type Digest struct {
	Hex string `json:"hex"`
	Alg string `json:"alg"`
}

const DigestAlg = "SHA-256"

// ComputeDigest canonically encodes the blueprint and hashes it. Types and
// map keys are sorted so the digest is independent of map iteration order.
func ComputeDigest(b *Blueprint) (Digest, error) {
	canonical, err := CanonicalJSON(b)
	if err != nil {
		return Digest{}, err
	}
	sum := sha256.Sum256(canonical)
	return Digest{Hex: hex.EncodeToString(sum[:]), Alg: DigestAlg}, nil
}

// CanonicalJSON renders the blueprint deterministically: sorted type names,
// declared field order, expressions as tagged JSON objects.
func CanonicalJSON(b *Blueprint) ([]byte, error) {
	typeNames := make([]string, 0, len(b.Types))
	for name := range b.Types {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	types := make([]any, 0, len(typeNames))
	for _, name := range typeNames {
		t := b.Types[name]
		types = append(types, map[string]any{
			"name":   t.Name,
			"kind":   string(t.Kind),
			"fields": fieldsJSON(t.Fields),
			"inputs": argsJSON(t.Inputs),
			"enum":   t.EnumValues,
		})
	}

	varKeys := make([]string, 0, len(b.Vars))
	for k := range b.Vars {
		varKeys = append(varKeys, k)
	}
	sort.Strings(varKeys)
	vars := make([]any, 0, len(varKeys))
	for _, k := range varKeys {
		vars = append(vars, map[string]any{"key": k, "value": b.Vars[k]})
	}

	doc := map[string]any{
		"schema": map[string]any{"query": b.QueryType, "mutation": b.MutationType},
		"types":  types,
		"vars":   vars,
		"server": map[string]any{
			"port":     b.Server.Port,
			"hostname": b.Server.Hostname,
			"timeout":  b.Server.Timeout.Milliseconds(),
		},
		"upstream": map[string]any{
			"baseURL":        b.Upstream.BaseURL,
			"httpCache":      b.Upstream.HTTPCache,
			"allowedHeaders": b.Upstream.AllowedHeaders,
			"batchDelay":     b.Upstream.Batch.Delay.Milliseconds(),
			"batchMaxSize":   b.Upstream.Batch.MaxSize,
		},
	}
	// encoding/json sorts map keys, which is exactly the canonical form here.
	return json.Marshal(doc)
}

func fieldsJSON(fields []*Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		m := map[string]any{
			"name": f.Name,
			"type": f.Type.String(),
			"args": argsJSON(f.Args),
		}
		if f.Resolver != nil {
			m["resolver"] = exprJSON(f.Resolver)
		}
		if f.Group != nil {
			m["group"] = map[string]any{"key": f.Group.Key, "batchKey": f.Group.BatchKey, "list": f.Group.ExpectList}
		}
		if f.Cache != nil {
			m["cache"] = map[string]any{"maxAge": f.Cache.MaxAge.Milliseconds()}
		}
		out = append(out, m)
	}
	return out
}

func argsJSON(args []*Argument) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		m := map[string]any{"name": a.Name, "type": a.Type.String()}
		if a.Default != nil {
			m["default"] = json.RawMessage(mustJSON(a.Default))
		}
		out = append(out, m)
	}
	return out
}

func mustJSON(v dynamic.Value) []byte {
	b, err := dynamic.EncodeJSON(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// exprJSON renders an expression as a tagged JSON object tree.
func exprJSON(e expr.Expr) any {
	switch t := e.(type) {
	case expr.Literal:
		m := map[string]any{"literal": json.RawMessage(mustJSON(t.Value))}
		return m
	case expr.Identity:
		return map[string]any{"identity": true}
	case expr.Pipe:
		return map[string]any{"pipe": []any{exprJSON(t.First), exprJSON(t.Second)}}
	case expr.FunctionDef:
		return map[string]any{"fn": t.Binding, "body": exprJSON(t.Body)}
	case expr.Lookup:
		return map[string]any{"lookup": t.Binding}
	case expr.EqualTo:
		return map[string]any{"eq": []any{exprJSON(t.Left), exprJSON(t.Right)}}
	case expr.Math:
		m := map[string]any{"math": int(t.Op), "left": exprJSON(t.Left)}
		if t.Right != nil {
			m["right"] = exprJSON(t.Right)
		}
		return m
	case expr.And:
		return map[string]any{"and": []any{exprJSON(t.Left), exprJSON(t.Right)}}
	case expr.Or:
		return map[string]any{"or": []any{exprJSON(t.Left), exprJSON(t.Right)}}
	case expr.Not:
		return map[string]any{"not": exprJSON(t.Value)}
	case expr.Cond:
		return map[string]any{"if": exprJSON(t.If), "then": exprJSON(t.Then), "else": exprJSON(t.Else)}
	case expr.IsSome:
		return map[string]any{"isSome": exprJSON(t.Value)}
	case expr.IsNone:
		return map[string]any{"isNone": exprJSON(t.Value)}
	case expr.Wrap:
		return map[string]any{"wrap": exprJSON(t.Value)}
	case expr.Fold:
		return map[string]any{"fold": exprJSON(t.Value), "none": exprJSON(t.NoneCase), "some": exprJSON(t.SomeCase)}
	case expr.DictGet:
		return map[string]any{"dictGet": exprJSON(t.Key), "dict": exprJSON(t.Dict)}
	case expr.DictPut:
		return map[string]any{"dictPut": exprJSON(t.Key), "value": exprJSON(t.Value), "dict": exprJSON(t.Dict)}
	case expr.DictToPairs:
		return map[string]any{"toPairs": exprJSON(t.Dict)}
	case expr.ToTyped:
		return map[string]any{"toTyped": schemaJSON(t.Schema)}
	case expr.ToDynamic:
		return map[string]any{"toDynamic": schemaJSON(t.Schema)}
	case expr.PathExpr:
		return map[string]any{"path": t.Segments}
	case expr.Select:
		return map[string]any{"select": t.Path}
	case expr.Render:
		return map[string]any{"render": json.RawMessage(mustJSON(t.Template))}
	case expr.EndpointCall:
		m := map[string]any{"endpoint": map[string]any{
			"method": t.Endpoint.Method,
			"url":    t.Endpoint.BaseURL() + t.Endpoint.Path,
			"query":  paramsJSON(t.Endpoint.Query),
			"header": paramsJSON(t.Endpoint.Headers),
		}}
		if t.Group != nil {
			m["group"] = map[string]any{"key": t.Group.Key, "batchKey": t.Group.BatchKey}
		}
		return m
	case expr.Debug:
		return map[string]any{"debug": t.Prefix, "value": exprJSON(t.Value)}
	case expr.Die:
		return map[string]any{"die": t.Message}
	}
	return map[string]any{"unknown": fmt.Sprintf("%T", e)}
}

func paramsJSON(params []endpoint.Param) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		out = append(out, map[string]any{"key": p.Key, "value": p.Value})
	}
	return out
}

func schemaJSON(s dynamic.Schema) any {
	switch t := s.(type) {
	case nil:
		return nil
	case dynamic.TString:
		return "string"
	case dynamic.TInt:
		return "int"
	case dynamic.TBool:
		return "bool"
	case dynamic.TOptional:
		return map[string]any{"optional": schemaJSON(t.Elem)}
	case dynamic.TArray:
		return map[string]any{"array": schemaJSON(t.Elem)}
	case dynamic.TDict:
		return map[string]any{"dict": schemaJSON(t.Elem)}
	case dynamic.TObject:
		fields := make([]any, 0, len(t.Fields))
		for _, f := range t.Fields {
			fields = append(fields, map[string]any{"name": f.Name, "schema": schemaJSON(f.Schema)})
		}
		return map[string]any{"object": fields}
	}
	return nil
}
