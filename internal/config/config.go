// Package config is the user-facing gateway configuration. The same Config
// decodes from JSON, YAML, or GraphQL SDL with directives, converts back to
// any of the three, and compiles into an immutable blueprint.
package config

import (
	"sort"
)

type Config struct {
	Schema   Schema           `json:"schema,omitempty" yaml:"schema,omitempty"`
	Server   Server           `json:"server,omitempty" yaml:"server,omitempty"`
	Upstream Upstream         `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Types    map[string]*Type `json:"types,omitempty" yaml:"types,omitempty"`
}

type Schema struct {
	Query    string `json:"query,omitempty" yaml:"query,omitempty"`
	Mutation string `json:"mutation,omitempty" yaml:"mutation,omitempty"`
}

// Server mirrors the @server directive. Timeout is in milliseconds.
type Server struct {
	Port            int               `json:"port,omitempty" yaml:"port,omitempty"`
	Hostname        string            `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Timeout         int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Vars            map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
	QueryValidation bool              `json:"queryValidation,omitempty" yaml:"queryValidation,omitempty"`
}

// Upstream mirrors the @upstream directive.
type Upstream struct {
	BaseURL        string   `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	HTTPCache      bool     `json:"httpCache,omitempty" yaml:"httpCache,omitempty"`
	AllowedHeaders []string `json:"allowedHeaders,omitempty" yaml:"allowedHeaders,omitempty"`
	Proxy          string   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Batch          *Batch   `json:"batch,omitempty" yaml:"batch,omitempty"`
}

// Batch configures the data loader's batch windows. Delay is in milliseconds.
type Batch struct {
	Delay   int      `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxSize int      `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type Type struct {
	// Input marks the type as a GraphQL input object.
	Input bool `json:"input,omitempty" yaml:"input,omitempty"`
	// Variants makes the type an enum.
	Variants []string          `json:"variants,omitempty" yaml:"variants,omitempty"`
	Fields   map[string]*Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	// AddFields lifts nested values into new fields (@addField).
	AddFields []AddField `json:"addFields,omitempty" yaml:"addFields,omitempty"`
}

type Field struct {
	Type     string `json:"type" yaml:"type"`
	List     bool   `json:"list,omitempty" yaml:"list,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	// ItemRequired marks list elements non-null.
	ItemRequired bool `json:"itemRequired,omitempty" yaml:"itemRequired,omitempty"`

	Args map[string]*Arg `json:"args,omitempty" yaml:"args,omitempty"`

	HTTP    *HTTP        `json:"http,omitempty" yaml:"http,omitempty"`
	GraphQL *GraphQLSrc  `json:"graphQL,omitempty" yaml:"graphQL,omitempty"`
	Const   *Const       `json:"const,omitempty" yaml:"const,omitempty"`
	Expr    *ExprBody    `json:"expr,omitempty" yaml:"expr,omitempty"`
	Modify  *Modify      `json:"modify,omitempty" yaml:"modify,omitempty"`
	Cache   *Cache       `json:"cache,omitempty" yaml:"cache,omitempty"`
	Omit    bool         `json:"omit,omitempty" yaml:"omit,omitempty"`
}

type Arg struct {
	Type     string `json:"type" yaml:"type"`
	List     bool   `json:"list,omitempty" yaml:"list,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// HTTP mirrors the @http directive.
type HTTP struct {
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Method  string `json:"method,omitempty" yaml:"method,omitempty"`
	Query   []KV   `json:"query,omitempty" yaml:"query,omitempty"`
	Headers []KV   `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any    `json:"body,omitempty" yaml:"body,omitempty"`

	GroupBy  []string `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	BatchKey []string `json:"batchKey,omitempty" yaml:"batchKey,omitempty"`
	Select   string   `json:"select,omitempty" yaml:"select,omitempty"`
}

// GraphQLSrc mirrors the @graphQL directive.
type GraphQLSrc struct {
	URL   string            `json:"url,omitempty" yaml:"url,omitempty"`
	Name  string            `json:"name,omitempty" yaml:"name,omitempty"`
	Args  map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
	Batch bool              `json:"batch,omitempty" yaml:"batch,omitempty"`
}

type Const struct {
	Data any `json:"data" yaml:"data"`
}

type ExprBody struct {
	Body any `json:"body" yaml:"body"`
}

type Modify struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Omit bool   `json:"omit,omitempty" yaml:"omit,omitempty"`
}

// Cache mirrors @cache. MaxAge is in milliseconds.
type Cache struct {
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

type KV struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Defaults applied during compilation and dropped by Compress.
const (
	DefaultPort       = 8000
	DefaultTimeout    = 30000
	DefaultBatchDelay = 10
	DefaultMethod     = "GET"
)

// Compress normalizes the config in place by dropping default-valued options
// so that format round-trips are stable.
func (c *Config) Compress() *Config {
	if c.Server.Port == DefaultPort {
		c.Server.Port = 0
	}
	if c.Server.Timeout == DefaultTimeout {
		c.Server.Timeout = 0
	}
	if len(c.Server.Vars) == 0 {
		c.Server.Vars = nil
	}
	if c.Upstream.Batch != nil {
		b := c.Upstream.Batch
		if b.Delay == DefaultBatchDelay {
			b.Delay = 0
		}
		if b.Delay == 0 && b.MaxSize == 0 && len(b.Headers) == 0 {
			c.Upstream.Batch = nil
		}
	}
	if len(c.Upstream.AllowedHeaders) == 0 {
		c.Upstream.AllowedHeaders = nil
	}
	for _, t := range c.Types {
		for _, f := range t.Fields {
			if f.HTTP != nil {
				if f.HTTP.Method == DefaultMethod {
					f.HTTP.Method = ""
				}
				if len(f.HTTP.Query) == 0 {
					f.HTTP.Query = nil
				}
				if len(f.HTTP.Headers) == 0 {
					f.HTTP.Headers = nil
				}
			}
			if f.Modify != nil && f.Modify.Name == "" && !f.Modify.Omit {
				f.Modify = nil
			}
			if len(f.Args) == 0 {
				f.Args = nil
			}
		}
		if len(t.Fields) == 0 {
			t.Fields = nil
		}
	}
	return c
}

// TypeNames returns the config's type names sorted, for deterministic output.
func (c *Config) TypeNames() []string {
	names := make([]string, 0, len(c.Types))
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldNames returns a type's field names sorted.
func (t *Type) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type AddField struct {
	Name string   `json:"name" yaml:"name"`
	Path []string `json:"path" yaml:"path"`
}
