// Package pipeline implements the DAG-of-inference-stages subsystem:
// NodeInfo/Connection definitions, PipelineDefinition validation (cycle
// detection, input/output wiring), PipelineFactory registration, and the
// short-lived per-request Pipeline/Node execution graph.
package pipeline
