package aggregator

import (
	"sync"

	"github.com/axiomhq/hyperloglog"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

type Stats struct {
	PagesServed    uint64 `json:"pagesServed"`
	DistinctTokens uint64 `json:"distinctTokens"`
	DistinctGroups uint64 `json:"distinctGroups"`
	Overrides      int    `json:"overrides"`
	Chains         []int  `json:"chains"`
}

// servedStats estimates how many distinct tokens and groups have been served.
type servedStats struct {
	mu     sync.Mutex
	pages  uint64
	tokens *hyperloglog.Sketch
	groups *hyperloglog.Sketch
}

func newServedStats() *servedStats {
	return &servedStats{
		tokens: hyperloglog.New14(),
		groups: hyperloglog.New14(),
	}
}

func (s *servedStats) record(tokens []domain.MultichainToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages++
	for i := range tokens {
		s.groups.Insert([]byte(tokens[i].AnchorID()))
		for _, id := range tokens[i].TokenIDs {
			s.tokens.Insert([]byte(id))
		}
	}
}

func (s *servedStats) snapshot() (pages, tokens, groups uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages, s.tokens.Estimate(), s.groups.Estimate()
}
