package core

import (
	"context"
	"sort"

	"emhub/pkg/domain"
)

// CaneSlot groups the pucks stored on one cane, ordered by position.
type CaneSlot struct {
	Cane  int           `json:"cane"`
	Pucks []domain.Puck `json:"pucks"`
}

// DewarStorage lists the canes of one dewar.
type DewarStorage struct {
	Dewar int        `json:"dewar"`
	Canes []CaneSlot `json:"canes"`
}

// PuckStorage folds all pucks into their physical dewar/cane/position
// layout, the view used when locating grids in the storage room.
func (s *Service) PuckStorage(ctx context.Context) ([]DewarStorage, error) {
	pucks, err := s.ListPucks(ctx)
	if err != nil {
		return nil, err
	}
	byDewar := map[int]map[int][]domain.Puck{}
	for _, p := range pucks {
		canes := byDewar[p.Dewar]
		if canes == nil {
			canes = map[int][]domain.Puck{}
			byDewar[p.Dewar] = canes
		}
		canes[p.Cane] = append(canes[p.Cane], p)
	}
	out := make([]DewarStorage, 0, len(byDewar))
	for dewar, canes := range byDewar {
		ds := DewarStorage{Dewar: dewar}
		for cane, pucks := range canes {
			sort.Slice(pucks, func(i, j int) bool { return pucks[i].Position < pucks[j].Position })
			ds.Canes = append(ds.Canes, CaneSlot{Cane: cane, Pucks: pucks})
		}
		sort.Slice(ds.Canes, func(i, j int) bool { return ds.Canes[i].Cane < ds.Canes[j].Cane })
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dewar < out[j].Dewar })
	return out, nil
}
