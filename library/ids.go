package library

// NextID returns 1 for an empty class, otherwise one more than the largest ID
// present. recs must be a fresh load taken under the class lock; a cached
// slice can hand out an ID that is already on disk.
func NextID[T any](c Codec[T], recs []Record[T]) int64 {
	var highest int64
	for _, r := range recs {
		if id := c.ID(r.Value); id > highest {
			highest = id
		}
	}
	return highest + 1
}
