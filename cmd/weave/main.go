package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jensneuse/abstractlogger"
	"go.uber.org/zap"

	"github.com/weavegql/weave/internal/blueprint"
	"github.com/weavegql/weave/internal/config"
	"github.com/weavegql/weave/internal/eventbus"
	"github.com/weavegql/weave/internal/httpcache"
	"github.com/weavegql/weave/internal/metric"
	"github.com/weavegql/weave/internal/otel"
	"github.com/weavegql/weave/internal/registry"
	"github.com/weavegql/weave/internal/runtime"
	"github.com/weavegql/weave/internal/server"
)

const rootUsage = `weave — configuration-driven GraphQL gateway

USAGE:
  weave <command> [flags]

COMMANDS:
  start      Run the gateway for a configuration file
  check      Compile a configuration and report problems
  generate   Convert a configuration between JSON, YAML and SDL
  publish    Publish a configuration to a running gateway
  list       List schemas published on a running gateway
  show       Show a published schema's digest
  drop       Remove a published schema from a running gateway
  help       Show help for any command
`

const startUsage = `start FLAGS:
  -config <file>            Configuration file (.json, .yml, .graphql) (required)
  -server.addr <addr>       Override the listen address from the config
  -server.pretty            Pretty-print JSON responses
  -cors.origin <origin>     Allowed CORS origin. Repeatable
  -cache.size <n>           HTTP cache capacity in entries (default: 1024)
  -otel.endpoint <addr>     OTLP collector endpoint
  -otel.service <name>      OpenTelemetry service name (default: weave)
`

const checkUsage = `check FLAGS:
  -config <file>   Configuration file to validate (required)
`

const generateUsage = `generate FLAGS:
  -config <file>   Input configuration file (required)
  -format <name>   Output format: json, yaml or graphql (required)
  -out <file>      Write output to file (default: stdout)
`

const publishUsage = `publish FLAGS:
  -config <file>   Configuration file to publish (required)
  -admin <url>     Gateway base URL, e.g. http://localhost:8000 (required)
`

const listUsage = `list FLAGS:
  -admin <url>     Gateway base URL (required)
`

const showUsage = `show FLAGS:
  -admin <url>     Gateway base URL (required)
  -digest <hex>    Schema digest (required)
`

const dropUsage = `drop FLAGS:
  -admin <url>     Gateway base URL (required)
  -digest <hex>    Schema digest (required)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("weave", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "start":
		return cmdStart(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs)
	case "generate":
		return cmdGenerate(cmdArgs)
	case "publish":
		return cmdPublish(cmdArgs)
	case "list":
		return cmdList(cmdArgs)
	case "show":
		return cmdShow(cmdArgs)
	case "drop":
		return cmdDrop(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "start":
		fmt.Print(startUsage)
	case "check":
		fmt.Print(checkUsage)
	case "generate":
		fmt.Print(generateUsage)
	case "publish":
		fmt.Print(publishUsage)
	case "list":
		fmt.Print(listUsage)
	case "show":
		fmt.Print(showUsage)
	case "drop":
		fmt.Print(dropUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func loadBlueprint(path string) (*blueprint.Blueprint, error) {
	format, err := config.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Decode(src, format)
	if err != nil {
		return nil, err
	}
	return config.Compile(cfg)
}

func cmdStart(args []string) error {
	configPath := ""
	addr := ""
	pretty := false
	cacheSize := 1024
	otelEndpoint := ""
	otelService := "weave"
	var corsOrigins stringListFlag

	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "Configuration file")
	fs.StringVar(&addr, "server.addr", addr, "Override listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.Var(&corsOrigins, "cors.origin", "Allowed CORS origin")
	fs.IntVar(&cacheSize, "cache.size", cacheSize, "HTTP cache capacity")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, startUsage)
		return err
	}
	if configPath == "" {
		fmt.Fprint(os.Stderr, startUsage)
		return fmt.Errorf("-config is required")
	}

	bp, err := loadBlueprint(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	digest, err := blueprint.ComputeDigest(bp)
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := abstractlogger.NewZapLogger(zl, abstractlogger.InfoLevel)

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	metrics := metric.New()
	unsubscribe := metrics.Register()
	defer unsubscribe()

	var cache *httpcache.Cache
	if bp.Upstream.HTTPCache {
		cache, err = httpcache.New(cacheSize)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	host := runtime.NewHost(bp, cache, runtime.WithLogger(logger))

	sopts := []server.Option{
		server.WithLogger(logger),
		server.WithCacheSize(cacheSize),
		server.WithHostOptions(runtime.WithLogger(logger)),
	}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if bp.Server.Timeout > 0 {
		sopts = append(sopts, server.WithTimeout(bp.Server.Timeout))
	}
	if len(corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(corsOrigins...))
	}
	h, err := server.New(host, registry.New(), sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", h)
	mux.Handle("/metrics", metrics.Handler())

	if addr == "" {
		addr = bp.Server.Hostname + ":" + strconv.Itoa(bp.Server.Port)
	}
	log.Printf("gateway listening on %s, schema %s", addr, digest.Hex[:12])
	return http.ListenAndServe(addr, mux)
}

func cmdCheck(args []string) error {
	configPath := ""
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "Configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}
	if configPath == "" {
		fmt.Fprint(os.Stderr, checkUsage)
		return fmt.Errorf("-config is required")
	}

	bp, err := loadBlueprint(configPath)
	if err != nil {
		return err
	}
	digest, err := blueprint.ComputeDigest(bp)
	if err != nil {
		return err
	}
	fmt.Printf("OK %s:%s\n", digest.Alg, digest.Hex)
	return nil
}

func cmdGenerate(args []string) error {
	configPath := ""
	formatName := ""
	outFile := ""
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "Input configuration file")
	fs.StringVar(&formatName, "format", formatName, "Output format")
	fs.StringVar(&outFile, "out", outFile, "Output file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, generateUsage)
		return err
	}
	if configPath == "" || formatName == "" {
		fmt.Fprint(os.Stderr, generateUsage)
		return fmt.Errorf("-config and -format are required")
	}

	inFormat, err := config.DetectFormat(configPath)
	if err != nil {
		return err
	}
	outFormat, err := config.ParseFormat(formatName)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Decode(src, inFormat)
	if err != nil {
		return err
	}
	out, err := config.Encode(cfg.Compress(), outFormat)
	if err != nil {
		return err
	}
	if outFile == "" {
		fmt.Print(string(out))
		return nil
	}
	return os.WriteFile(outFile, out, 0644)
}

func cmdPublish(args []string) error {
	configPath := ""
	admin := ""
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "Configuration file")
	fs.StringVar(&admin, "admin", admin, "Gateway base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, publishUsage)
		return err
	}
	if configPath == "" || admin == "" {
		fmt.Fprint(os.Stderr, publishUsage)
		return fmt.Errorf("-config and -admin are required")
	}

	format, err := config.DetectFormat(configPath)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	contentType := "application/json"
	switch format {
	case config.FormatYAML:
		contentType = "application/yaml"
	case config.FormatSDL:
		contentType = "application/graphql"
	}

	req, err := http.NewRequest(http.MethodPut, admin+"/schemas", bytes.NewReader(src))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return doAdmin(req)
}

func cmdList(args []string) error {
	admin := ""
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&admin, "admin", admin, "Gateway base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, listUsage)
		return err
	}
	if admin == "" {
		fmt.Fprint(os.Stderr, listUsage)
		return fmt.Errorf("-admin is required")
	}
	req, err := http.NewRequest(http.MethodGet, admin+"/schemas", nil)
	if err != nil {
		return err
	}
	return doAdmin(req)
}

func cmdShow(args []string) error {
	admin := ""
	digest := ""
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&admin, "admin", admin, "Gateway base URL")
	fs.StringVar(&digest, "digest", digest, "Schema digest")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, showUsage)
		return err
	}
	if admin == "" || digest == "" {
		fmt.Fprint(os.Stderr, showUsage)
		return fmt.Errorf("-admin and -digest are required")
	}
	req, err := http.NewRequest(http.MethodGet, admin+"/schemas/"+digest, nil)
	if err != nil {
		return err
	}
	return doAdmin(req)
}

func cmdDrop(args []string) error {
	admin := ""
	digest := ""
	fs := flag.NewFlagSet("drop", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&admin, "admin", admin, "Gateway base URL")
	fs.StringVar(&digest, "digest", digest, "Schema digest")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, dropUsage)
		return err
	}
	if admin == "" || digest == "" {
		fmt.Fprint(os.Stderr, dropUsage)
		return fmt.Errorf("-admin and -digest are required")
	}
	req, err := http.NewRequest(http.MethodDelete, admin+"/schemas/"+digest, nil)
	if err != nil {
		return err
	}
	return doAdmin(req)
}

// doAdmin sends an admin request and prints the JSON response.
func doAdmin(req *http.Request) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, bytes.TrimSpace(body), "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
