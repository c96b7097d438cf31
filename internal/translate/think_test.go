package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThinkSplitterBasic(t *testing.T) {
	s := NewThinkSplitter("<think>", "</think>")
	vis, think := s.Feed("<think>hmm</think>answer")
	assert.Equal(t, "answer", vis)
	assert.Equal(t, "hmm", think)
}

func TestThinkSplitterDelimiterSplitAcrossFeeds(t *testing.T) {
	s := NewThinkSplitter("<think>", "</think>")

	vis, think := s.Feed("<thi")
	assert.Empty(t, vis)
	assert.Empty(t, think)

	vis, think = s.Feed("nk>deep ")
	assert.Empty(t, vis)
	assert.Equal(t, "deep ", think)

	vis, think = s.Feed("thought</th")
	assert.Empty(t, vis)
	assert.Equal(t, "thought", think)

	vis, think = s.Feed("ink>visible")
	assert.Equal(t, "visible", vis)
	assert.Empty(t, think)
}

func TestThinkSplitterFalseStart(t *testing.T) {
	s := NewThinkSplitter("<think>", "</think>")

	vis, think := s.Feed("a <th")
	assert.Equal(t, "a ", vis)
	assert.Empty(t, think)

	// The held suffix turns out not to be a delimiter.
	vis, think = s.Feed("ree-legged cat")
	assert.Equal(t, "<three-legged cat", vis)
	assert.Empty(t, think)
}

func TestThinkSplitterFlushUnterminated(t *testing.T) {
	s := NewThinkSplitter("<think>", "</think>")
	s.Feed("<think>never closed, then a dangling <")

	// "<" is held as a possible end-delimiter prefix inside the span.
	vis, think := s.Flush()
	assert.Empty(t, vis)
	assert.Equal(t, "<", think)
}

func TestThinkSplitterTokenPairDelimiters(t *testing.T) {
	s := NewThinkSplitter("◁think▷", "◁/think▷")
	vis, think := s.Feed("◁think▷内部◁/think▷外部")
	assert.Equal(t, "外部", vis)
	assert.Equal(t, "内部", think)
}

func TestThinkSplitterMultipleSpans(t *testing.T) {
	s := NewThinkSplitter("<think>", "</think>")
	vis, think := s.Feed("a<think>1</think>b<think>2</think>c")
	assert.Equal(t, "abc", vis)
	assert.Equal(t, "12", think)
}
