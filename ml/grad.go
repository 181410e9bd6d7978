package ml

import "context"

type noGradKey struct{}

// WithNoGrad returns a context under which layers must not record anything needed for a
// backward pass. Layers that keep per-call state for training check GradEnabled and skip
// it; TrainingAccumulator drops its materialized depth-feature volume.
func WithNoGrad(ctx context.Context) context.Context {
	return context.WithValue(ctx, noGradKey{}, true)
}

// GradEnabled reports whether gradient tracking is on for ctx. It is on unless the context
// came from WithNoGrad.
func GradEnabled(ctx context.Context) bool {
	off, _ := ctx.Value(noGradKey{}).(bool)
	return !off
}
