package heap

// Pool is an aligned allocation unit carved into a fixed number of
// pages. Pools are never returned to the process; only their pages are
// recycled.
type Pool struct {
	id    uint32
	pages []*Page
}

func newPool(id uint32, pagesPerPool, slotsPerPage, slotSize uint32) *Pool {
	pool := &Pool{id: id, pages: make([]*Page, pagesPerPool)}
	for i := range pool.pages {
		pool.pages[i] = newPage(uint32(i), pool, slotsPerPage, slotSize)
	}
	return pool
}
