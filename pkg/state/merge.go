package state

import "bytes"

// Merge combines two States of the same run. The side updated last wins for
// every field; node outputs are unioned, missing outputs are filled from the
// other side and conflicting outputs keep the newer value. When both sides were
// updated at the same instant, the side with the greater ID is the newer one;
// copies sharing ID and time are ordered by their serialized content. Merge(a, b)
// and Merge(b, a) agree unless such copies hold unserializable values.
func Merge(a, b *State) *State {
	newer, older := a, b
	if !isNewer(a, b) {
		newer, older = b, a
	}

	out := newer.DeepCopy()
	older.mu.Lock()
	olderOutputs := copyOutputs(older.nodeOutputs)
	older.mu.Unlock()

	out.mu.Lock()
	defer out.mu.Unlock()
	for node, outs := range olderOutputs {
		dst, ok := out.nodeOutputs[node]
		if !ok {
			out.nodeOutputs[node] = outs
			continue
		}
		for name, v := range outs {
			if _, taken := dst[name]; !taken {
				dst[name] = v
			}
		}
	}
	return out
}

// Merge is shorthand for Merge(s, other).
func (s *State) Merge(other *State) *State {
	return Merge(s, other)
}

func isNewer(a, b *State) bool {
	ua, ub := a.UpdatedAt(), b.UpdatedAt()
	if !ua.Equal(ub) {
		return ua.After(ub)
	}
	if ia, ib := a.ID(), b.ID(); ia != ib {
		return ia.String() > ib.String()
	}
	return bytes.Compare(contentKey(a), contentKey(b)) >= 0
}

func contentKey(s *State) []byte {
	data, err := s.Snapshot().Marshal()
	if err != nil {
		return nil
	}
	return data
}
