// Package registry implements the model registry: Model, ModelManager and
// the ModelInstanceUnloadGuard scoped lifecycle pin. It generalizes an
// original single-LLM-daemon manager into a name -> versioned-instance-set
// registry that supports many models and many concurrently loaded
// versions per model.
package registry
