// Package layercake is a project-scoped graph transformation engine.
//
// Users import tabular node/edge/layer data, compose directed-acyclic
// pipelines ("plans") that ingest, filter, merge, transform and export
// graphs into Mermaid, DOT, GML, PlantUML, JSON and CSV, and observe
// execution progress as it happens.
//
// This module is the plan DAG subsystem: the data model for plans
// (pkg/model), the entity store (pkg/store and its backends), the
// graph-data lifecycle service with edit replay (pkg/graphdata), the DAG
// validator (pkg/validator) and executor (pkg/executor), the node-kind
// executors (pkg/nodeexec), the layer resolver (pkg/layer), the event
// bus (pkg/eventbus), the renderer facade (pkg/render), dataset import
// (pkg/importer), the error taxonomy (pkg/apperr) and supporting glue
// (pkg/idgen, pkg/log, pkg/config). cmd/layercake-server wires these into
// a runnable process exposing serve/migrate/replay verbs.
//
// HTTP/GraphQL/WebSocket transport, authentication, CLI/REPL/LLM
// integration and format-specific render templates sit outside this
// module's scope; only their contracts are implemented here.
package layercake
