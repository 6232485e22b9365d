package transcribe

import (
	"fmt"
	"strings"
)

type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
}

// Segment is a run of consecutive words from one speaker.
type Segment struct {
	Speaker   int
	Text      string
	StartTime float64
	EndTime   float64
}

func GroupWordsBySpeaker(words []Word) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var current Segment
	started := false

	for _, w := range words {
		speaker := -1
		if w.Speaker != nil {
			speaker = *w.Speaker
		}

		if !started {
			current = Segment{Speaker: speaker, Text: w.PunctuatedWord, StartTime: w.Start, EndTime: w.End}
			started = true
			continue
		}

		if speaker == current.Speaker {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
			continue
		}

		segments = append(segments, current)
		current = Segment{Speaker: speaker, Text: w.PunctuatedWord, StartTime: w.Start, EndTime: w.End}
	}

	return append(segments, current)
}

// FormatSpeakers renders segments one per line as "Speaker N: text", numbering
// speakers from 1. Without any diarization the text is returned unlabeled.
func FormatSpeakers(segments []Segment) string {
	labeled := false
	for _, s := range segments {
		if s.Speaker >= 0 {
			labeled = true
			break
		}
	}

	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if !labeled {
			lines = append(lines, text)
			continue
		}
		lines = append(lines, fmt.Sprintf("Speaker %d: %s", s.Speaker+1, text))
	}

	if !labeled {
		return strings.Join(lines, " ")
	}
	return strings.Join(lines, "\n")
}
