// Package harvest defines the core types and interfaces shared by the
// harvesting subsystems: work keys, raw documents, the canonical case model,
// tracker records, the error taxonomy, and the narrow collaborator
// interfaces the orchestrator composes.
package harvest
