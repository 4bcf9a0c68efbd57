package filter

import "github.com/nekozuka/imgcatcher/internal/model"

// ByFaceCount keeps records whose face count is within [minFaces, maxFaces]
// or whose face count is unknown. The input slice is not modified.
func ByFaceCount(records []*model.ImageRecord, minFaces, maxFaces int) []*model.ImageRecord {
	kept := make([]*model.ImageRecord, 0, len(records))
	for _, r := range records {
		if r.FaceCount == nil {
			kept = append(kept, r)
			continue
		}
		if *r.FaceCount >= minFaces && *r.FaceCount <= maxFaces {
			kept = append(kept, r)
		}
	}
	return kept
}

// ByResolution keeps records at least minWidth x minHeight pixels, or with
// unknown dimensions. The input slice is not modified.
func ByResolution(records []*model.ImageRecord, minWidth, minHeight int) []*model.ImageRecord {
	kept := make([]*model.ImageRecord, 0, len(records))
	for _, r := range records {
		if r.Width == nil || r.Height == nil {
			kept = append(kept, r)
			continue
		}
		if *r.Width >= minWidth && *r.Height >= minHeight {
			kept = append(kept, r)
		}
	}
	return kept
}

// Apply runs the configured filters from criteria over records. Filters
// whose criteria are unset are skipped. Because each filter is pure and
// order-preserving, the surviving subset does not depend on filter order.
func Apply(records []*model.ImageRecord, criteria model.FilterCriteria) []*model.ImageRecord {
	out := records
	if criteria.MinFaces != nil || criteria.MaxFaces != nil {
		minFaces := 0
		maxFaces := int(^uint(0) >> 1)
		if criteria.MinFaces != nil {
			minFaces = *criteria.MinFaces
		}
		if criteria.MaxFaces != nil {
			maxFaces = *criteria.MaxFaces
		}
		out = ByFaceCount(out, minFaces, maxFaces)
	}
	if criteria.MinWidth > 0 || criteria.MinHeight > 0 {
		out = ByResolution(out, criteria.MinWidth, criteria.MinHeight)
	}
	return out
}
