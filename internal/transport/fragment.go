package transport

const (
	nickLen = 31
	hostLen = 63

	// ChallengeLineWidth is the number of challenge characters carried by a single
	// reply line. It leaves room for the ":server 740 nick :" reply prefix.
	ChallengeLineWidth = MaxLineSize - (nickLen + hostLen + 12) - 1
)

// Fragment splits text in chunks of at most width characters.
// A non positive width selects ChallengeLineWidth. Fragment always returns at least
// 1 chunk so that an empty text still produces a reply line.
func Fragment(text string, width int) []string {
	if width <= 0 {
		width = ChallengeLineWidth
	}

	chunks := make([]string, 0, 1+len(text)/width)
	for len(text) > width {
		chunks = append(chunks, text[:width])
		text = text[width:]
	}

	return append(chunks, text)
}
