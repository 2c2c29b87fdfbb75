package pipeline

// NoPreview marks a segment without a corner preview
const NoPreview = -1

// Segment describes one composed segment: which clip fills the frame,
// whose name is shown, and which clip is previewed in the corner.
type Segment struct {
	Position int
	Label    string
	Preview  int
}

// HasPreview reports whether the segment overlays the next clip
func (s Segment) HasPreview() bool { return s.Preview != NoPreview }

// PlanSegments lays out the alternating-focus sequence. Even positions are
// the interviewer asking, odd positions the candidate answering; every
// segment but the last previews the clip that follows it.
func PlanSegments(clips int, interviewer, candidate string) []Segment {
	if clips <= 0 {
		return nil
	}
	plan := make([]Segment, clips)
	for i := range plan {
		label := interviewer
		if i%2 == 1 {
			label = candidate
		}
		preview := NoPreview
		if i+1 < clips {
			preview = i + 1
		}
		plan[i] = Segment{Position: i, Label: label, Preview: preview}
	}
	return plan
}

// TitleClip is the input whose frame appears in the opening circle: the
// first candidate answer when there is one.
func TitleClip(clips int) int {
	if clips >= 2 {
		return 1
	}
	return 0
}

// stillOffset picks where to grab the representative preview frame
func stillOffset(duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	if half := duration / 2; half < 1 {
		return half
	}
	return 1
}
