// Package captions turns transcriber output into on-screen caption segments.
package captions

import (
	"sort"
	"strings"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/jobs"
)

// minSpan is the length given to words whose end does not follow their start.
const minSpan = 0.01

// Limits bound the merged segments.
type Limits struct {
	MaxWords    int
	MaxDuration float64 // seconds
	MaxGap      float64 // seconds
	MaxSegments int     // 0 means unbounded
}

// DefaultLimits returns the recommended merge bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxWords:    common.DefaultCaptionMaxWords,
		MaxDuration: common.DefaultCaptionMaxDuration,
		MaxGap:      common.DefaultCaptionMaxGap,
		MaxSegments: common.DefaultCaptionMaxSegments,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxWords <= 0 {
		l.MaxWords = d.MaxWords
	}
	if l.MaxDuration <= 0 {
		l.MaxDuration = d.MaxDuration
	}
	if l.MaxGap < 0 {
		l.MaxGap = d.MaxGap
	}
	return l
}

// MergeWords greedily buckets consecutive words into caption segments. A bucket is
// closed before a word when it already holds MaxWords words, when its span has reached
// MaxDuration or would exceed it with the word, or when the silence before the word is
// longer than MaxGap. Output is ordered, non-overlapping and capped at MaxSegments.
func MergeWords(words []jobs.CaptionSegment, limits Limits) []jobs.CaptionSegment {
	limits = limits.withDefaults()
	words = normalize(words)

	out := make([]jobs.CaptionSegment, 0, len(words)/2+1)
	var bucket []jobs.CaptionSegment
	flush := func() {
		if len(bucket) == 0 {
			return
		}
		texts := make([]string, len(bucket))
		for i, w := range bucket {
			texts[i] = w.Text
		}
		out = append(out, jobs.CaptionSegment{
			Start: bucket[0].Start,
			End:   bucket[len(bucket)-1].End,
			Text:  strings.Join(texts, " "),
		})
		bucket = bucket[:0]
	}

	for _, w := range words {
		if len(bucket) > 0 {
			first, last := bucket[0], bucket[len(bucket)-1]
			full := len(bucket) >= limits.MaxWords
			long := last.End-first.Start >= limits.MaxDuration || w.End-first.Start > limits.MaxDuration
			gap := w.Start-last.End > limits.MaxGap
			if full || long || gap {
				flush()
			}
		}
		bucket = append(bucket, w)
	}
	flush()
	return capSegments(out, limits.MaxSegments)
}

// FromTranscript merges word timings when present and otherwise passes the coarse
// segments through unmerged.
func FromTranscript(segments, words []jobs.CaptionSegment, limits Limits) []jobs.CaptionSegment {
	if len(words) > 0 {
		return MergeWords(words, limits)
	}
	return capSegments(normalize(segments), limits.MaxSegments)
}

// normalize drops empty entries, orders by start and removes overlaps so every entry
// starts at or after the previous end.
func normalize(in []jobs.CaptionSegment) []jobs.CaptionSegment {
	out := make([]jobs.CaptionSegment, 0, len(in))
	for _, w := range in {
		w.Text = strings.TrimSpace(w.Text)
		if w.Text == "" {
			continue
		}
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	prevEnd := 0.0
	for i := range out {
		if out[i].Start < prevEnd {
			out[i].Start = prevEnd
		}
		if out[i].End <= out[i].Start {
			out[i].End = out[i].Start + minSpan
		}
		prevEnd = out[i].End
	}
	return out
}

func capSegments(in []jobs.CaptionSegment, max int) []jobs.CaptionSegment {
	if max > 0 && len(in) > max {
		return in[:max]
	}
	return in
}
