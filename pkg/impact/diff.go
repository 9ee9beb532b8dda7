package impact

import (
	"sort"
	"strings"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
)

// prdPair is a PRD matched across versions. Base is nil for added PRDs and
// Compare is nil for deleted ones.
type prdPair struct {
	Base    *artifact.PRD
	Compare *artifact.PRD
}

func (p prdPair) changeType() (reasoning.ChangeType, bool) {
	switch {
	case p.Base == nil:
		return reasoning.ChangeAdded, true
	case p.Compare == nil:
		return reasoning.ChangeDeleted, true
	case p.Base.Title != p.Compare.Title,
		p.Base.Content != p.Compare.Content,
		p.Base.Version != p.Compare.Version:
		return reasoning.ChangeModified, true
	}
	return "", false
}

// current is the newest side of the pair.
func (p prdPair) current() *artifact.PRD {
	if p.Compare != nil {
		return p.Compare
	}
	return p.Base
}

func (p prdPair) ids() []string {
	var ids []string
	if p.Base != nil {
		ids = append(ids, p.Base.ID)
	}
	if p.Compare != nil {
		ids = append(ids, p.Compare.ID)
	}
	return ids
}

// identityKey returns the key under which a PRD is matched across
// versions.
func identityKey(p *artifact.PRD, identity string) string {
	if identity == IdentityCode {
		return strings.ToLower(strings.TrimSpace(p.Code))
	}
	module := ""
	if p.ModuleID != nil {
		module = *p.ModuleID
	}
	return module + "\x00" + normalizeTitle(p.Title)
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// matchPRDs pairs the PRDs of two versions. The result is ordered by key
// so the analysis is deterministic. When several PRDs of one version share
// a key they are paired in code order.
func matchPRDs(base, compare []artifact.PRD, identity string) []prdPair {
	byKey := map[string]*[2][]*artifact.PRD{}
	var keys []string
	add := func(side int, prds []artifact.PRD) {
		for i := range prds {
			k := identityKey(&prds[i], identity)
			slot, ok := byKey[k]
			if !ok {
				slot = &[2][]*artifact.PRD{}
				byKey[k] = slot
				keys = append(keys, k)
			}
			slot[side] = append(slot[side], &prds[i])
		}
	}
	add(0, base)
	add(1, compare)
	sort.Strings(keys)

	var pairs []prdPair
	for _, k := range keys {
		slot := byKey[k]
		n := max(len(slot[0]), len(slot[1]))
		for i := 0; i < n; i++ {
			var p prdPair
			if i < len(slot[0]) {
				p.Base = slot[0][i]
			}
			if i < len(slot[1]) {
				p.Compare = slot[1][i]
			}
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// diffText renders the change of a pair as a unified diff.
func diffText(p prdPair) (string, error) {
	var a, b, code string
	if p.Base != nil {
		a = p.Base.IndexText() + "\n"
		code = p.Base.Code
	}
	if p.Compare != nil {
		b = p.Compare.IndexText() + "\n"
		code = p.Compare.Code
	}
	return artifact.UnifiedDiff(a, b, "base/"+code, "compare/"+code)
}
