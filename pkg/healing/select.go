package healing

// Best picks the response to act on: the highest confidence wins and the
// earliest arrival breaks ties. responses must be in arrival order.
// Returns -1 for an empty slice.
func Best(responses []Response) int {
	best := -1
	for i, r := range responses {
		if best < 0 || r.Confidence > responses[best].Confidence {
			best = i
		}
	}
	return best
}

// ForProblem returns the responses that answer problemID, keeping order.
func ForProblem(responses []Response, problemID uint32) []Response {
	var out []Response
	for _, r := range responses {
		if r.ProblemID == problemID {
			out = append(out, r)
		}
	}
	return out
}
