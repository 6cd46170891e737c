// Package sampler bounds the number of product URLs visited per run.
package sampler

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/lmfraga/mpscraper/config"
)

// Sampler selects a bounded subset of the sitemap's product URLs.
type Sampler struct {
	policy string
	size   int
	seed   int64
}

// New builds a sampler for the configured policy.
func New(cfg *config.Config) (*Sampler, error) {
	switch cfg.SamplePolicy {
	case config.PolicyRandom, config.PolicyInterval:
	default:
		return nil, fmt.Errorf("unknown sample policy %q", cfg.SamplePolicy)
	}
	return &Sampler{
		policy: cfg.SamplePolicy,
		size:   cfg.SampleSize,
		seed:   cfg.Seed,
	}, nil
}

// Sample returns at most the configured number of URLs. The input slice is
// never mutated. A non-zero seed makes the random policy deterministic.
func (s *Sampler) Sample(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	k := s.size
	if k > len(urls) {
		k = len(urls)
	}

	switch s.policy {
	case config.PolicyInterval:
		return sampleInterval(urls, k)
	default:
		return sampleRandom(urls, k, s.seed)
	}
}

// sampleRandom draws k URLs uniformly without replacement via a partial
// Fisher-Yates shuffle.
func sampleRandom(urls []string, k int, seed int64) []string {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pool := make([]string, len(urls))
	copy(pool, urls)

	out := make([]string, 0, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		out = append(out, pool[i])
	}
	return out
}

// sampleInterval picks k evenly spaced URLs, preserving input order.
func sampleInterval(urls []string, k int) []string {
	if k >= len(urls) {
		out := make([]string, len(urls))
		copy(out, urls)
		return out
	}

	out := make([]string, 0, k)
	step := float64(len(urls)) / float64(k)
	for i := 0; i < k; i++ {
		out = append(out, urls[int(float64(i)*step)])
	}
	return out
}
