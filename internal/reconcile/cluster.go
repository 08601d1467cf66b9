package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/pkg/types"
)

// Cluster strategies.
const (
	StrategyKMeans = "kmeans"
	StrategyGreedy = "greedy"
)

const (
	// minClusterInput is the largest input returned as a single cluster.
	minClusterInput = 3

	minTargetClusters = 2
	maxTargetClusters = 10

	// DefaultClusterThreshold is the greedy assignment bar.
	DefaultClusterThreshold = 0.70
)

// ClusterConfig tunes the Clusterer.
type ClusterConfig struct {
	Strategy            string  // kmeans (default) or greedy
	SimilarityThreshold float64 // greedy only
}

// Clusterer groups entities so the detector only compares within a group.
// Clusters are an optimisation: any partition, including a single cluster,
// yields correct results.
type Clusterer struct {
	provider *embedding.Provider
	cfg      ClusterConfig
}

// NewClusterer returns a clusterer that embeds through provider. A nil
// provider always yields a single cluster.
func NewClusterer(provider *embedding.Provider, cfg ClusterConfig) *Clusterer {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyKMeans
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultClusterThreshold
	}
	return &Clusterer{provider: provider, cfg: cfg}
}

// ClusterID returns the id of the i-th cluster.
func ClusterID(i int) string {
	return "cluster-" + strconv.Itoa(i)
}

// TargetClusters returns clamp(round(sqrt(n)), 2, 10), never more than n.
func TargetClusters(n int) int {
	k := int(math.Round(math.Sqrt(float64(n))))
	k = max(minTargetClusters, min(maxTargetClusters, k))
	return min(k, n)
}

// Cluster partitions entities into groups keyed by cluster id. k <= 0
// selects TargetClusters(len(entities)). Only cancellation is returned as
// an error; an unavailable embedding backend yields one cluster.
func (c *Clusterer) Cluster(ctx context.Context, entities []*types.Entity, k int) (map[string][]*types.Entity, error) {
	if len(entities) == 0 {
		return map[string][]*types.Entity{}, nil
	}
	if len(entities) <= minClusterInput || c.provider == nil || !c.provider.Available() {
		return single(entities), nil
	}

	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = NewView(e).Text
	}
	vecs, err := c.provider.EncodeBatch(ctx, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			panic(err)
		}
		log.Printf("reconcile: clustering without embeddings: %v", err)
		return single(entities), nil
	}

	if k <= 0 {
		k = TargetClusters(len(entities))
	}
	k = min(k, len(entities))

	var groups [][]int
	if c.cfg.Strategy == StrategyGreedy {
		groups = greedyGroups(vecs, c.cfg.SimilarityThreshold)
	} else {
		groups, err = kmeansGroups(vecs, k)
		if err != nil {
			log.Printf("reconcile: k-means failed, using greedy assignment: %v", err)
			groups = greedyGroups(vecs, c.cfg.SimilarityThreshold)
		}
	}

	out := make(map[string][]*types.Entity, len(groups))
	for i, g := range groups {
		members := make([]*types.Entity, len(g))
		for j, idx := range g {
			members[j] = entities[idx]
		}
		out[ClusterID(i)] = members
	}
	return out, nil
}

func single(entities []*types.Entity) map[string][]*types.Entity {
	return map[string][]*types.Entity{ClusterID(0): append([]*types.Entity(nil), entities...)}
}

// observation carries the entity index through k-means.
type observation struct {
	idx    int
	coords clusters.Coordinates
}

func (o observation) Coordinates() clusters.Coordinates { return o.coords }

// Distance is squared Euclidean. Inputs are unit vectors, so ordering by it
// matches ordering by cosine similarity.
func (o observation) Distance(p clusters.Coordinates) float64 {
	var d float64
	for i, x := range o.coords {
		diff := x - p[i]
		d += diff * diff
	}
	return d
}

// kmeansGroups partitions non-zero vectors into at most k groups. Vectors
// with no signal share one extra group.
func kmeansGroups(vecs [][]float32, k int) ([][]int, error) {
	var dataset clusters.Observations
	var zero []int
	for i, v := range vecs {
		coords := make(clusters.Coordinates, len(v))
		var norm float64
		for j, x := range v {
			coords[j] = float64(x)
			norm += coords[j] * coords[j]
		}
		if norm == 0 {
			zero = append(zero, i)
			continue
		}
		norm = math.Sqrt(norm)
		for j := range coords {
			coords[j] /= norm
		}
		dataset = append(dataset, observation{idx: i, coords: coords})
	}

	assign := make([]int, len(vecs))
	for i := range assign {
		assign[i] = -1
	}
	switch {
	case len(dataset) == 0:
	case len(dataset) <= k:
		for n, o := range dataset {
			assign[o.(observation).idx] = n
		}
	default:
		cc, err := kmeans.New().Partition(dataset, k)
		if err != nil {
			return nil, fmt.Errorf("partition %d vectors into %d: %w", len(dataset), k, err)
		}
		for n, cl := range cc {
			for _, o := range cl.Observations {
				if idx := o.(observation).idx; assign[idx] < 0 {
					assign[idx] = n
				}
			}
		}
	}
	zeroGroup := len(vecs) + 1
	for _, i := range zero {
		assign[i] = zeroGroup
	}
	return orderGroups(assign), nil
}

// greedyGroups assigns each vector in order to the most similar centroid at
// or above threshold, or starts a new group. Centroids are running means.
func greedyGroups(vecs [][]float32, threshold float64) [][]int {
	var centroids [][]float32
	var sizes []int
	assign := make([]int, len(vecs))
	zeroGroup := -1
	for i, v := range vecs {
		if embedding.IsZero(v) {
			if zeroGroup < 0 {
				zeroGroup = len(vecs) + 1
			}
			assign[i] = zeroGroup
			continue
		}
		best, bestSim := -1, threshold
		for ci, c := range centroids {
			if sim := embedding.Cosine(c, v); sim >= bestSim {
				best, bestSim = ci, sim
			}
		}
		if best < 0 {
			centroids = append(centroids, append([]float32(nil), v...))
			sizes = append(sizes, 1)
			assign[i] = len(centroids) - 1
			continue
		}
		n := float32(sizes[best])
		for j := range centroids[best] {
			centroids[best][j] = (centroids[best][j]*n + v[j]) / (n + 1)
		}
		sizes[best]++
		assign[i] = best
	}
	return orderGroups(assign)
}

// orderGroups turns per-vector labels into member lists ordered by first
// member. Empty groups never appear.
func orderGroups(assign []int) [][]int {
	pos := make(map[int]int)
	var groups [][]int
	for i, label := range assign {
		g, ok := pos[label]
		if !ok {
			g = len(groups)
			pos[label] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}
