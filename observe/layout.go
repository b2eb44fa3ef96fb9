package observe

import "github.com/hazyhaar/pagesense/page"

// Layout is a layout snapshot enriched with modal/overlay
// classification.
type Layout struct {
	page.LayoutSnapshot

	// Modals are dialog-like elements floating above the page.
	Modals []page.Element `json:"modals,omitempty"`
	// Overlays are elements covering most of the viewport (backdrops,
	// consent walls, interstitials).
	Overlays []page.Element `json:"overlays,omitempty"`
}

// HasModal reports whether any modal or overlay is present.
func (l Layout) HasModal() bool {
	return len(l.Modals) > 0 || len(l.Overlays) > 0
}

// classifyLayout applies the modal/overlay heuristics: an element is a
// candidate when it is fixed or absolutely positioned with a z-index at
// or above zMin. Candidates covering at least overlayMin of the viewport
// are overlays; the rest are modals. Within each class, elements are
// ordered by covered area, largest first — the tie-break for consumers
// that only look at the top entry.
func classifyLayout(snap page.LayoutSnapshot, zMin int, overlayMin float64) Layout {
	out := Layout{LayoutSnapshot: snap}

	vpArea := float64(snap.Viewport.Width) * float64(snap.Viewport.Height)
	if vpArea <= 0 {
		return out
	}

	for _, el := range snap.Elements {
		if el.Position != "fixed" && el.Position != "absolute" {
			continue
		}
		if el.ZIndex < zMin {
			continue
		}
		coverage := visibleArea(el, snap.Viewport) / vpArea
		if coverage >= overlayMin {
			out.Overlays = insertByArea(out.Overlays, el)
		} else if coverage >= 0.02 {
			out.Modals = insertByArea(out.Modals, el)
		}
	}
	return out
}

// visibleArea is the element area clipped to the viewport.
func visibleArea(el page.Element, vp page.Viewport) float64 {
	left := max(el.X, 0)
	top := max(el.Y, 0)
	right := min(el.X+el.Width, float64(vp.Width))
	bottom := min(el.Y+el.Height, float64(vp.Height))
	if right <= left || bottom <= top {
		return 0
	}
	return (right - left) * (bottom - top)
}

// insertByArea keeps the slice sorted by raw element area, largest
// first. Layout snapshots are small, so insertion sort is fine.
func insertByArea(list []page.Element, el page.Element) []page.Element {
	area := el.Width * el.Height
	for i, e := range list {
		if area > e.Width*e.Height {
			list = append(list[:i], append([]page.Element{el}, list[i:]...)...)
			return list
		}
	}
	return append(list, el)
}
