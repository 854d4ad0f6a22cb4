package jobs

import (
	"sort"

	types "github.com/yungbote/pricebook-backend/internal/domain/jobs"
)

func sortByCreatedDesc(in []*types.IngestionJob) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].CreatedAt.Equal(in[j].CreatedAt) {
			return in[i].ID.String() < in[j].ID.String()
		}
		return in[i].CreatedAt.After(in[j].CreatedAt)
	})
}
