package main

// uploadStrategy proposes candidate upload controls on a destination screen.
// Strategies are pure and independent; each returns the candidates for the
// first upload label that produced any.
type uploadStrategy struct {
	name string
	find func(s *Screen, p AppProfile) []*UINode
}

var uploadStrategies = []uploadStrategy{
	{name: "stableId", find: uploadByStableID},
	{name: "regionText", find: uploadByRegionText},
	{name: "textAncestor", find: uploadByTextAncestor},
	{name: "anywhereText", find: uploadByAnywhereText},
}

// selectUploadControl runs the strategies in order. The first one that yields
// exactly one actionable control wins.
func selectUploadControl(s *Screen, p AppProfile) (*UINode, string, []string) {
	tried := make([]string, 0, len(uploadStrategies))
	for _, st := range uploadStrategies {
		tried = append(tried, st.name)
		candidates := dedupeNodes(st.find(s, p))
		if len(candidates) == 1 {
			return candidates[0], st.name, tried
		}
		if len(candidates) > 1 {
			LogDebug("upload").Str("strategy", st.name).Int("candidates", len(candidates)).Msg("ambiguous, trying next strategy")
		}
	}
	return nil, "", tried
}

func uploadByStableID(s *Screen, p AppProfile) []*UINode {
	if p.UploadButtonID == "" {
		return nil
	}
	return actionableOnly(FindElements(s.Root, ByID(p.UploadButtonID)))
}

// uploadRegion is the top-right corner where the confirm control usually sits
func uploadRegion(s *Screen, p AppProfile) BoundsRect {
	return BoundsRect{
		X1: int(float64(s.Width) * p.UploadRegionX),
		Y1: 0,
		X2: s.Width,
		Y2: int(float64(s.Height) * p.UploadRegionY),
	}
}

func uploadByRegionText(s *Screen, p AppProfile) []*UINode {
	region := uploadRegion(s, p)
	for _, label := range p.UploadLabels {
		if found := actionableOnly(FindElements(s.Root, ByText(label).In(region))); len(found) > 0 {
			return found
		}
	}
	return nil
}

func uploadByTextAncestor(s *Screen, p AppProfile) []*UINode {
	for _, label := range p.UploadLabels {
		var found []*UINode
		for _, n := range FindElements(s.Root, ByText(label)) {
			if a := n.ClickableAncestor(); a != nil {
				found = append(found, a)
			}
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

func uploadByAnywhereText(s *Screen, p AppProfile) []*UINode {
	for _, label := range p.UploadLabels {
		if found := actionableOnly(FindElements(s.Root, Contains(label))); len(found) > 0 {
			return found
		}
	}
	return nil
}

func actionableOnly(nodes []*UINode) []*UINode {
	out := nodes[:0:0]
	for _, n := range nodes {
		if n.Actionable() {
			out = append(out, n)
		}
	}
	return out
}

func dedupeNodes(nodes []*UINode) []*UINode {
	seen := make(map[*UINode]bool, len(nodes))
	out := nodes[:0:0]
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
