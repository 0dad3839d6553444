package service

// PageQueryParam describes one catalog page to request and the slice of its rows to keep,
// so that a client page/limit can be served whatever the page size of the remote catalog.
type PageQueryParam struct {
	Limit            int
	Page             int
	FirstRowToSelect int
	LastRowToSelect  int
}

// ComputePagesToQuery maps the client page (0-based) and limit onto the pages of a catalog
// that serves at most catalogLimit rows per page.
func ComputePagesToQuery(clientPage, clientLimit, catalogLimit int) []PageQueryParam {
	if clientLimit <= 0 || catalogLimit <= 0 {
		return nil
	}
	firstRow := clientPage * clientLimit
	lastRow := firstRow + clientLimit - 1

	var pages []PageQueryParam
	for page := firstRow / catalogLimit; page <= lastRow/catalogLimit; page++ {
		p := PageQueryParam{Limit: catalogLimit, Page: page, FirstRowToSelect: 0, LastRowToSelect: catalogLimit - 1}
		if page == firstRow/catalogLimit {
			p.FirstRowToSelect = firstRow % catalogLimit
		}
		if page == lastRow/catalogLimit {
			p.LastRowToSelect = lastRow % catalogLimit
		}
		pages = append(pages, p)
	}
	return pages
}

// QueryGetResult returns the rows of the page selected by p, clamped to the rows actually returned
func QueryGetResult[T any](p *PageQueryParam, rows []T) []T {
	if p.FirstRowToSelect >= len(rows) {
		return nil
	}
	last := p.LastRowToSelect
	if last >= len(rows) {
		last = len(rows) - 1
	}
	return rows[p.FirstRowToSelect : last+1]
}
