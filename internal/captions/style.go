package captions

import (
	"fmt"
	"math"
	"strings"

	"github.com/jo-hoe/reelsmith/internal/jobs"
	"github.com/jo-hoe/reelsmith/internal/persona"
)

// Style is the caption overlay look handed to the compositor.
type Style struct {
	Key        string `json:"key"`
	Font       string `json:"font"`
	Color      string `json:"color"`
	Size       int    `json:"size"`
	Position   string `json:"position"`
	Background string `json:"background,omitempty"`
	Uppercase  bool   `json:"uppercase,omitempty"`
}

var styles = map[string]Style{
	persona.Energetic:    {Font: "Montserrat ExtraBold", Color: "#FFE600", Size: 64, Position: "center", Background: "#000000AA", Uppercase: true},
	persona.Calm:         {Font: "Lora", Color: "#FFFFFF", Size: 48, Position: "bottom"},
	persona.Storyteller:  {Font: "Playfair Display", Color: "#F5E6C8", Size: 52, Position: "bottom", Background: "#00000066"},
	persona.Casual:       {Font: "Poppins SemiBold", Color: "#FFFFFF", Size: 56, Position: "center", Background: "#00000088"},
	persona.Professional: {Font: "Inter SemiBold", Color: "#FFFFFF", Size: 50, Position: "bottom", Background: "#000000AA"},
}

// StyleFor returns the caption style for a persona id; unknown ids get the professional look.
func StyleFor(key string) Style {
	s, ok := styles[key]
	if !ok {
		key = persona.Professional
		s = styles[key]
	}
	s.Key = key
	return s
}

// RenderSRT formats segments as a SubRip document.
func RenderSRT(segments []jobs.CaptionSegment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTimestamp(seg.Start), formatSRTTimestamp(seg.End), seg.Text)
	}
	return b.String()
}

func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3_600_000
	minutes := (totalMillis % 3_600_000) / 60_000
	secs := (totalMillis % 60_000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
