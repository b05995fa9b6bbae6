package gate

import (
	"github.com/JakeFAU/politefetch/internal/crawler"
)

// GroupByDomain partitions records by grouping key, in first-seen order.
// Records that already carry a terminal key keep it; records whose URL
// cannot be mapped to a server are grouped under crawler.Errored.
func GroupByDomain(records []crawler.URLRecord) []crawler.URLGroup {
	index := make(map[crawler.GroupingKey]int)
	var groups []crawler.URLGroup
	for _, rec := range records {
		key := rec.GroupKey
		if !key.IsTerminal() {
			domain, err := crawler.DomainKey(rec.URL)
			if err != nil {
				key = crawler.Errored
			} else {
				key = crawler.NormalKey(domain)
			}
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, crawler.URLGroup{Key: key})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}
