// Package geomatch matches census block groups to target geographies and
// apportions block-group demographics across them.
//
// Two relationships are supported:
//   - pct_overlap: weight = intersection area / block group area, for
//     intersections larger than MinOverlapArea
//   - centroid_is_within: weight 1 when the block group centroid is strictly
//     inside the target
package geomatch
