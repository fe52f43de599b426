// Package ledger implements quota accounting for shared API-credit pools.
//
// Many callers draw concurrently against a pooled allowance. The Engine
// answers the admission question ("may this call proceed?") by atomically
// reserving quota against a shared counter store, and settles the
// reservation once the real cost of the upstream call is known:
//
//	res, err := engine.CheckAndReserve(ctx, "pool-a", ledger.MustParseCredits("1.5"))
//	if err != nil {
//		// errors.Is(err, ledger.ErrInsufficientQuota) -> deny the call
//		return err
//	}
//
//	actual, err := callUpstream(ctx)
//	if err != nil {
//		return engine.Release(ctx, res) // nothing happened, return the hold
//	}
//	return engine.Commit(ctx, res, actual, keyID) // write the consumption event
//
// The counter store (Redis in production) is the fast path; the durable
// store (PostgreSQL) holds the append-only consumption log and is the
// source of truth. Two background components keep them honest:
//
//   - Sweeper releases Pending reservations that outlived their timeout,
//     so a crashed caller can never strand quota.
//   - Reconciler periodically recomputes true remaining quota from the
//     durable log and overwrites the cached counter.
//
// Quota amounts are exact fixed-point values (Credits, micro-credit
// resolution); floating point is never used in ledger math.
package ledger
