package migration

import (
	"github.com/davidthor/bundlefix/pkg/dedup"
	"github.com/davidthor/bundlefix/pkg/model"
)

// Inspection is a read-only health report for one site.
type Inspection struct {
	ProjectID string `json:"projectId" yaml:"projectId"`
	Revision  int    `json:"revision" yaml:"revision"`

	// DuplicateSettings lists tpls with settings sharing a combo key.
	DuplicateSettings []Warning `json:"duplicateSettings" yaml:"duplicateSettings"`

	// DuplicateVariants maps each owner to the variants that would collapse into it.
	DuplicateVariants map[model.ID][]model.ID `json:"duplicateVariants" yaml:"duplicateVariants"`

	Dangling []string `json:"dangling" yaml:"dangling"`

	Migrations []string `json:"migrations" yaml:"migrations"`
}

// Healthy reports whether nothing needs fixing.
func (i *Inspection) Healthy() bool {
	return len(i.DuplicateSettings) == 0 && len(i.DuplicateVariants) == 0 && len(i.Dangling) == 0
}

// Inspect scans site without modifying it.
func Inspect(projectID string, site *model.Site) (*Inspection, error) {
	out := &Inspection{
		ProjectID:         projectID,
		DuplicateVariants: make(map[model.ID][]model.ID),
	}

	dups, err := residualDuplicates(site)
	if err != nil {
		return nil, err
	}
	for i := range dups {
		dups[i].ProjectID = projectID
	}
	out.DuplicateSettings = dups

	pools := [][]model.ID{site.GlobalVariants}
	for _, cid := range site.Components {
		if c, ok := site.Component(cid); ok {
			pools = append(pools, c.Variants)
		}
	}
	for _, pool := range pools {
		dups, err := dedup.Duplicates(site, pool)
		if err != nil {
			return nil, err
		}
		for owner, members := range dups {
			out.DuplicateVariants[owner] = members
		}
	}

	dangling, err := site.CheckReferences()
	if err != nil {
		return nil, err
	}
	for _, d := range dangling {
		out.Dangling = append(out.Dangling, d.String())
	}
	return out, nil
}
