package nodeprog

// RootCredit is the total amount of termination credit a coordinator hands
// out when it starts a program that fans out along an unknown number of
// paths (Reachability, Dijkstra). Every live continuation carries a share
// of it; a node that stops exploring — because it found what it was
// looking for, hit a dead end, or made no further progress — returns its
// share to the aggregation point instead of spending it. Termination is
// detected the moment the credit seen there sums back to RootCredit: at
// that point no shard can possibly be holding an outstanding continuation
// for the request, because every unit of credit that ever existed has been
// accounted for.
//
// This is a credit-recovery (weight-throwing) termination scheme: simpler fan-in
// patterns with a caller-known branch count (EdgeCount, Clustering) use an
// explicit responses-left counter instead, since they don't need it.
const RootCredit uint64 = 1 << 40

// SplitCredit divides total into n non-negative shares that sum back to
// exactly total, handling any remainder so no credit is lost to integer
// division. Returns nil if n <= 0.
func SplitCredit(total uint64, n int) []uint64 {
	if n <= 0 {
		return nil
	}
	base := total / uint64(n)
	rem := total % uint64(n)
	shares := make([]uint64, n)
	for i := range shares {
		shares[i] = base
		if uint64(i) < rem {
			shares[i]++
		}
	}
	return shares
}
