// Package aggregate rolls consumption events up into time-bucketed
// usage trends for operators.
//
// Buckets are aligned to the bucket width from the Unix epoch, not from
// the query's start time, so two overlapping queries always produce
// identical bucket edges. Every bucket in the requested range is
// emitted, zero-filled when no events fall into it, so charts render
// continuous series across idle periods:
//
//	agg := aggregate.New(store)
//	points, err := agg.Aggregate(ctx, "pool-a",
//		time.Now().Add(-24*time.Hour), time.Now(), time.Hour)
package aggregate
