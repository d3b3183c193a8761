// Package toolcat loads and validates the tool definitions handed to the
// LLM gateway.
package toolcat

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
)

// Tool names the assistant may call.
const (
	SearchEvents = "search_events"
	CreateEvent  = "create_event"
)

// Definition describes one callable tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Catalog holds tool definitions plus compiled argument schemas.
type Catalog struct {
	defs    map[string]Definition
	schemas map[string]*gojsonschema.Schema
}

type catalogFile struct {
	Tools []Definition `json:"tools"`
}

// Load reads a YAML tool catalog from path, or returns the built-in catalog
// when path is empty.
func Load(path string) (*Catalog, error) {
	defs := builtinDefinitions()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tool catalog: %w", err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
		}
		if len(file.Tools) > 0 {
			defs = file.Tools
		}
	}
	return build(defs)
}

func build(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:    make(map[string]Definition, len(defs)),
		schemas: make(map[string]*gojsonschema.Schema, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool definition without a name")
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
		if err != nil {
			return nil, fmt.Errorf("invalid parameter schema for tool %q: %w", def.Name, err)
		}
		c.defs[def.Name] = def
		c.schemas[def.Name] = schema
	}
	return c, nil
}

// Tools renders gateway tool definitions for the named tools.
func (c *Catalog) Tools(names ...string) ([]llm.Tool, error) {
	tools := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		def, ok := c.defs[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", name)
		}
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, err
		}
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// Validate checks arguments against the tool's parameter schema.
func (c *Catalog) Validate(name string, args json.RawMessage) error {
	schema, ok := c.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid arguments for %s: %s", name, errs[0].String())
		}
		return fmt.Errorf("invalid arguments for %s", name)
	}
	return nil
}

// Names returns every tool name in the catalog.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	return names
}

func builtinDefinitions() []Definition {
	return []Definition{
		{
			Name:        SearchEvents,
			Description: "Find live-music events near the user within a date window.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"latitude":  map[string]interface{}{"type": "number"},
					"longitude": map[string]interface{}{"type": "number"},
					"startDate": map[string]interface{}{"type": "string"},
					"endDate":   map[string]interface{}{"type": "string"},
					"radius_km": map[string]interface{}{"type": "number"},
				},
				"required": []interface{}{"latitude", "longitude", "startDate", "endDate"},
			},
		},
		{
			Name:        CreateEvent,
			Description: "Publish one live-music event submitted by a promoter.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"name":        map[string]interface{}{"type": "string", "minLength": 1},
					"artist":      map[string]interface{}{"type": "string"},
					"description": map[string]interface{}{"type": "string"},
					"event_date":  map[string]interface{}{"type": "string"},
					"venue":       map[string]interface{}{"type": "string", "minLength": 1},
					"city":        map[string]interface{}{"type": "string", "minLength": 1},
					"price":       map[string]interface{}{"type": "string"},
					"latitude":    map[string]interface{}{"type": "number"},
					"longitude":   map[string]interface{}{"type": "number"},
					"ticket_url":  map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"name", "venue", "city", "event_date"},
			},
		},
	}
}
