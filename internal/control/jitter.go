package control

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"baas/internal/types"
)

type JitterKind int

const (
	JitterNone JitterKind = iota
	JitterRectangle
	JitterCircle
)

func (k JitterKind) String() string {
	switch k {
	case JitterNone:
		return "none"
	case JitterRectangle:
		return "rectangle"
	case JitterCircle:
		return "circle"
	}
	return fmt.Sprintf("JitterKind(%d)", int(k))
}

func ParseJitterKind(s string) (JitterKind, error) {
	switch s {
	case "none", "":
		return JitterNone, nil
	case "rectangle", "rect":
		return JitterRectangle, nil
	case "circle":
		return JitterCircle, nil
	}
	return 0, types.Configurationf("control: jitter", "unknown kind %q", s)
}

// JitterSpec describes the random offset added to each device coordinate.
// A zero Magnitude or JitterNone always yields (0, 0).
type JitterSpec struct {
	Kind      JitterKind
	Magnitude int
}

func (j JitterSpec) validate() error {
	if j.Magnitude < 0 {
		return types.Configurationf("control: jitter", "negative magnitude %d", j.Magnitude)
	}
	switch j.Kind {
	case JitterNone, JitterRectangle, JitterCircle:
		return nil
	}
	return types.Configurationf("control: jitter", "unknown kind %d", int(j.Kind))
}

type jitterSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newJitterSource(seed1, seed2 uint64) *jitterSource {
	return &jitterSource{r: rand.New(rand.NewPCG(seed1, seed2))}
}

// offset samples one jitter offset. Rectangle draws dx and dy independently
// from [-m, m]. Circle draws from the same square and rejects points outside
// the disk, which keeps integer offsets uniform by area.
func (s *jitterSource) offset(j JitterSpec) (int, int) {
	m := j.Magnitude
	if m <= 0 || j.Kind == JitterNone {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch j.Kind {
	case JitterRectangle:
		return s.r.IntN(2*m+1) - m, s.r.IntN(2*m+1) - m
	case JitterCircle:
		for {
			dx, dy := s.r.IntN(2*m+1)-m, s.r.IntN(2*m+1)-m
			if dx*dx+dy*dy <= m*m {
				return dx, dy
			}
		}
	}
	return 0, 0
}
