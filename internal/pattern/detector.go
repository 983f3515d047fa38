// Package pattern detects structural conventions across files: clusters of
// files that share dependencies, and the imports or methods most of a
// cluster has that a few members are missing. get_batch_guidance is built
// on top of it.
package pattern

import (
	"sort"

	"github.com/samber/lo"
)

// FileShape is the per-file input to detection: the file's direct
// dependency targets and its symbol names.
type FileShape struct {
	Path    string
	Imports []string
	Methods []string
}

// Cluster is a group of files sharing enough dependency surface to be
// treated as following one convention.
type Cluster struct {
	Files      []string `json:"files"`
	SharedDeps []string `json:"shared_deps,omitempty"`
}

// GuidanceItem is one recurring pattern a minority of a cluster lacks.
type GuidanceItem struct {
	Kind        string   `json:"kind"` // import | method
	Pattern     string   `json:"pattern"`
	PresentIn   int      `json:"present_in"`
	MissingFrom []string `json:"missing_from"`
}

// DetectorConfig configures clustering and the majority threshold.
type DetectorConfig struct {
	MinClusterSize      int
	SimilarityThreshold float64
	MajorityFraction    float64
}

// Detector identifies shared conventions in a file set.
type Detector struct {
	config DetectorConfig
}

// NewDetector creates a new pattern detector.
func NewDetector(config DetectorConfig) *Detector {
	if config.MinClusterSize == 0 {
		config.MinClusterSize = 2
	}
	if config.SimilarityThreshold == 0 {
		config.SimilarityThreshold = 0.4
	}
	if config.MajorityFraction == 0 {
		config.MajorityFraction = 0.6
	}
	return &Detector{config: config}
}

// Clusters groups files whose dependency sets overlap above the
// similarity threshold. Deterministic: files are visited in sorted order.
func (d *Detector) Clusters(shapes []FileShape) []Cluster {
	byPath := lo.SliceToMap(shapes, func(s FileShape) (string, FileShape) { return s.Path, s })
	paths := lo.Keys(byPath)
	sort.Strings(paths)

	visited := make(map[string]bool)
	var clusters []Cluster

	for _, path := range paths {
		if visited[path] {
			continue
		}
		visited[path] = true
		members := []string{path}

		for _, other := range paths {
			if visited[other] {
				continue
			}
			if jaccard(byPath[path].Imports, byPath[other].Imports) >= d.config.SimilarityThreshold {
				members = append(members, other)
				visited[other] = true
			}
		}

		if len(members) < d.config.MinClusterSize {
			continue
		}

		shared := byPath[members[0]].Imports
		for _, m := range members[1:] {
			shared = lo.Intersect(shared, byPath[m].Imports)
		}
		sort.Strings(shared)
		clusters = append(clusters, Cluster{Files: members, SharedDeps: shared})
	}

	return clusters
}

// Guidance scans each cluster for imports and methods a majority of
// members share and reports the members missing them.
func (d *Detector) Guidance(shapes []FileShape, clusters []Cluster) []GuidanceItem {
	byPath := lo.SliceToMap(shapes, func(s FileShape) (string, FileShape) { return s.Path, s })

	var items []GuidanceItem
	for _, cluster := range clusters {
		items = append(items, d.minorityGaps(cluster, byPath, "import", func(s FileShape) []string { return s.Imports })...)
		items = append(items, d.minorityGaps(cluster, byPath, "method", func(s FileShape) []string { return s.Methods })...)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind < items[j].Kind
		}
		return items[i].Pattern < items[j].Pattern
	})
	return items
}

func (d *Detector) minorityGaps(cluster Cluster, byPath map[string]FileShape, kind string, extract func(FileShape) []string) []GuidanceItem {
	counts := make(map[string]int)
	for _, f := range cluster.Files {
		for _, v := range lo.Uniq(extract(byPath[f])) {
			counts[v]++
		}
	}

	threshold := int(float64(len(cluster.Files)) * d.config.MajorityFraction)
	if threshold < 2 {
		threshold = 2
	}

	var items []GuidanceItem
	for pattern, n := range counts {
		if n < threshold || n == len(cluster.Files) {
			continue
		}
		missing := lo.Filter(cluster.Files, func(f string, _ int) bool {
			return !lo.Contains(extract(byPath[f]), pattern)
		})
		sort.Strings(missing)
		items = append(items, GuidanceItem{
			Kind:        kind,
			Pattern:     pattern,
			PresentIn:   n,
			MissingFrom: missing,
		})
	}
	return items
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := len(lo.Intersect(lo.Uniq(a), lo.Uniq(b)))
	union := len(lo.Union(a, b))
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
