// Package schema validates workflow inputs.
//
// A Schema maps input names to a Type and tells which inputs are required and
// which fall back to a default:
//
//	inputs := schema.Schema{
//	    "query":   schema.Required(schema.String()),
//	    "retries": schema.Optional(schema.Int(), 3),
//	    "tags":    schema.Optional(schema.Slice(schema.String()), nil),
//	}
//	values, err := inputs.Apply(map[string]any{"query": "go"})
//
// Workflow definitions spell types as strings ("string", "int?", "[string]"),
// which Parse turns into a Schema.
package schema
