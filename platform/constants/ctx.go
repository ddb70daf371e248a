// Package constants holds names shared between the host and the generated script source.
package constants

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// EvalData is the context key holding seed data added with AddDataToContext.
	EvalData ContextKey = "jsglobals_eval_data"

	// RunID is the context key holding the identifier of the current run.
	RunID ContextKey = "jsglobals_run_id"
)

// Identifiers injected into the generated source or the execution context.
const (
	// DynamicImport is the dynamic-load capability called by rewritten import statements.
	DynamicImport = "__jsglobals_import"

	// Loader is the name of the module loader exposed to snippets.
	Loader = "require"

	// ModuleLink holds the namespaces of a native module's imports, in declaration order.
	ModuleLink = "__jsglobals_link"

	// ModuleRecord receives a native module's exports.
	ModuleRecord = "__jsglobals_module"
)
