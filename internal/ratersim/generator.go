package ratersim

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/okian/kickrate/internal/domain/model"
)

// generator produces plausible responses for every configured scale.
type generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newGenerator(seed uint64) *generator {
	return &generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// responses fills every scale with a value it accepts.
func (g *generator) responses(scales model.ScaleSet, itemID string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]any, len(scales))
	for _, s := range scales {
		switch s.Kind {
		case model.KindDiscrete:
			values := s.Values
			if len(values) == 0 {
				values = model.DefaultDiscreteValues
			}
			out[s.Title] = values[g.rnd.IntN(len(values))]
		case model.KindRange:
			out[s.Title] = s.Min + g.rnd.Float64()*(s.Max-s.Min)
		case model.KindText:
			out[s.Title] = fmt.Sprintf("simulated note for %s", itemID)
		}
	}
	return out
}

// raterID builds the i-th participant id.
func raterID(prefix string, i int) string {
	return fmt.Sprintf("%s%05d", prefix, i)
}
