// Package sim provides virtual, just-in-time instance collections for an external
// simulation engine.
//
// # Reading Guide
//
// Start with these three files to understand the core:
//   - session.go: the Session context object, model resolution and materialization
//   - collection.go: VirtualCollection, position lookup and the two-level grouping
//   - model_record.go: defaults, sparse overlays and the SetDefaults pinning rule
//
// # Architecture
//
// A Session owns the model registry and the IDAllocator. RequestRange allocates a
// half-open range of virtual ids, wraps it in a VirtualRange and returns it inside a
// VirtualCollection. Attribute reads and writes go through the range to the model's
// AttributeStores, which hold only overridden ids. Selecting from a collection regroups
// ranges without touching attribute storage. Materialize pushes overridden values to
// the engine and binds the returned engine ids in the allocator.
//
// Compiled models are built by a Builder on background goroutines. Each build yields
// a BuildTask that Materialize joins before creating instances; a failed build is
// reported as *CompilationError.
//
// The collaborators live in sub-packages:
//   - sim/engine/: an in-memory Engine
//   - sim/compiler/: an in-process Compiler and a Catalog of model sources
//   - sim/trace/: allocation and materialization records
//
// # Key Interfaces
//
//   - Engine: create instances, install modules, list models, copy models
//   - Compiler: compile a source, list its attributes, build an installable module
//   - Catalog: resolve model names the engine does not know
//   - Expr: a deferred value drawn once per instance at set time
package sim
