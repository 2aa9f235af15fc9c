package deadlock

// ExhaustedHolderName is the name of ExhaustedHolderHeuristic.
const ExhaustedHolderName = "exhausted-holder"

// ExhaustedHolderHeuristic flags the first slot that holds an instance of a
// resource whose instances are all allocated.
type ExhaustedHolderHeuristic struct{}

// Name returns "exhausted-holder".
func (ExhaustedHolderHeuristic) Name() string {
	return ExhaustedHolderName
}

// Detect returns the lowest slot, then the lowest resource, such that the
// slot holds the resource and the resource has nothing available.
func (ExhaustedHolderHeuristic) Detect(v View) (Verdict, bool) {
	return scanHolders(v, func(r, _ int) bool {
		return v.Available(r) == 0
	})
}

// PartialHolderName is the name of PartialHolderHeuristic.
const PartialHolderName = "partial-holder"

// PartialHolderHeuristic flags the first slot that holds an instance of any
// resource that is not fully available. It triggers on any allocation at all,
// so it resolves far more often than ExhaustedHolderHeuristic.
type PartialHolderHeuristic struct{}

// Name returns "partial-holder".
func (PartialHolderHeuristic) Name() string {
	return PartialHolderName
}

// Detect returns the lowest slot, then the lowest resource, such that the
// slot holds the resource and some of the resource is allocated.
func (PartialHolderHeuristic) Detect(v View) (Verdict, bool) {
	return scanHolders(v, func(r, _ int) bool {
		return v.Available(r) < v.Total(r)
	})
}
