package domain

// Merge combines base and incoming into a new record. Dates present on one side
// are carried through; dates on both sides take the per-facility union, so a
// recorded visit is never dropped by a later partial update. Neither input is
// modified.
func Merge(base, incoming VisitRecord) VisitRecord {
	out := make(VisitRecord, len(base)+len(incoming))
	for d, e := range base {
		out[d] = e.Clamp()
	}
	for d, e := range incoming {
		if existing, ok := out[d]; ok {
			out[d] = existing.Union(e)
			continue
		}
		out[d] = e.Clamp()
	}
	return out
}

// MergePayloads normalizes whichever side is legacy-shaped, then merges.
func MergePayloads(base, incoming RecordPayload) VisitRecord {
	return Merge(base.Normalize(), incoming.Normalize())
}
