package translate

import "strings"

// ThinkSplitter routes inline chain-of-thought out of a text delta stream.
// Models that wrap reasoning in delimiters (<think>…</think> or token pairs)
// emit it interleaved with visible text; the splitter separates the two
// incrementally, holding back any suffix that could be the start of a
// delimiter until enough bytes arrive to decide.
type ThinkSplitter struct {
	start string
	end   string

	inThink bool
	carry   string
}

// NewThinkSplitter builds a splitter for the given delimiter pair.
func NewThinkSplitter(start, end string) *ThinkSplitter {
	return &ThinkSplitter{start: start, end: end}
}

// Feed consumes one text fragment and returns the visible and reasoning
// portions completed by it. Either may be empty.
func (s *ThinkSplitter) Feed(fragment string) (visible, reasoning string) {
	buf := s.carry + fragment
	s.carry = ""
	var vis, think strings.Builder

	for buf != "" {
		if s.inThink {
			i := strings.Index(buf, s.end)
			if i >= 0 {
				think.WriteString(buf[:i])
				buf = buf[i+len(s.end):]
				s.inThink = false
				continue
			}
			keep := partialSuffix(buf, s.end)
			think.WriteString(buf[:len(buf)-keep])
			s.carry = buf[len(buf)-keep:]
			buf = ""
			continue
		}

		i := strings.Index(buf, s.start)
		if i >= 0 {
			vis.WriteString(buf[:i])
			buf = buf[i+len(s.start):]
			s.inThink = true
			continue
		}
		keep := partialSuffix(buf, s.start)
		vis.WriteString(buf[:len(buf)-keep])
		s.carry = buf[len(buf)-keep:]
		buf = ""
	}
	return vis.String(), think.String()
}

// Flush drains held bytes at end of stream. A dangling partial delimiter is
// surfaced as-is; an unterminated think span counts as reasoning.
func (s *ThinkSplitter) Flush() (visible, reasoning string) {
	carry := s.carry
	s.carry = ""
	if carry == "" {
		return "", ""
	}
	if s.inThink {
		return "", carry
	}
	return carry, ""
}

// partialSuffix returns the length of the longest proper suffix of buf that
// is also a prefix of delim.
func partialSuffix(buf, delim string) int {
	maxLen := min(len(buf), len(delim)-1)
	for n := maxLen; n > 0; n-- {
		if strings.HasPrefix(delim, buf[len(buf)-n:]) {
			return n
		}
	}
	return 0
}
