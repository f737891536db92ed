package pipeline

import "imagin3d/internal/types"

// WeightThreshold is the exclusive lower bound for keeping a cluster or
// token in the synthesis input.
const WeightThreshold = 50

// FilterForSynthesis keeps clusters weighing more than WeightThreshold and,
// inside each, the member tokens weighing more than WeightThreshold.
// Order is preserved.
func FilterForSynthesis(clusters []*types.ClusterDescriptor) []types.SynthesisCluster {
	out := make([]types.SynthesisCluster, 0, len(clusters))
	for _, cd := range clusters {
		if cd == nil || cd.Weight <= WeightThreshold {
			continue
		}
		sc := types.SynthesisCluster{
			ID:          cd.ID,
			Title:       cd.Title,
			Purpose:     cd.Purpose,
			Description: cd.Description,
			Weight:      cd.Weight,
			Elements:    make([]types.SynthesisToken, 0, len(cd.Elements)),
		}
		for _, tok := range cd.Elements {
			if tok == nil || tok.Weight <= WeightThreshold {
				continue
			}
			sc.Elements = append(sc.Elements, types.SynthesisToken{
				ID:          tok.ID,
				Type:        tok.Type,
				Title:       tok.Title,
				Description: tok.Description,
				Weight:      tok.Weight,
			})
		}
		out = append(out, sc)
	}
	return out
}

// ResolveMembers maps declared member ids to tokens, dropping ids with no
// token. Duplicated ids are kept once.
func ResolveMembers(ids []int, lookup map[int]*types.DesignToken) []*types.DesignToken {
	out := make([]*types.DesignToken, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		tok, ok := lookup[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// ClusterContexts maps each token id to "<title>,<description>" of a
// cluster that contains it. Descriptors are folded in order, so a token in
// several clusters gets the last one.
func ClusterContexts(clusters []*types.ClusterDescriptor) map[int]string {
	out := make(map[int]string)
	for _, cd := range clusters {
		for _, tok := range cd.Elements {
			out[tok.ID] = cd.Title + "," + cd.Description
		}
	}
	return out
}
