package dispatch

// PartitionByTenant splits events into fixed-size batches such that no
// batch spans more than one tenant: each batch is later dispatched with
// exactly one tenant's credentials.
//
// Tenants appear in first-seen order, and within a tenant the input
// order is preserved, so flattening the result yields every input event
// exactly once with each tenant's events still in arrival order.
func PartitionByTenant[E any](events []E, maxBatchSize int, tenantOf func(E) string) [][]E {
	if len(events) == 0 {
		return nil
	}
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}

	var order []string
	grouped := map[string][]E{}
	for _, e := range events {
		tid := tenantOf(e)
		if _, seen := grouped[tid]; !seen {
			order = append(order, tid)
		}
		grouped[tid] = append(grouped[tid], e)
	}

	var batches [][]E
	for _, tid := range order {
		group := grouped[tid]
		for start := 0; start < len(group); start += maxBatchSize {
			end := start + maxBatchSize
			if end > len(group) {
				end = len(group)
			}
			batches = append(batches, group[start:end:end])
		}
	}
	return batches
}
