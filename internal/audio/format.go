package audio

import (
	"bytes"
	"fmt"
	"strings"
)

// Format is a container format recognized from the leading bytes of a payload.
type Format string

const (
	FormatUnknown Format = ""
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
)

// SignatureLen is the number of leading bytes inspected by Sniff.
const SignatureLen = 4

var signatures = []struct {
	format Format
	magic  []byte
}{
	// EBML header shared by WebM and Matroska.
	{FormatWebM, []byte{0x1A, 0x45, 0xDF, 0xA3}},
	{FormatOgg, []byte("OggS")},
	{FormatWAV, []byte("RIFF")},
	{FormatMP3, []byte("ID3")},
}

// Sniff returns the container format whose signature matches the first
// bytes of data, or FormatUnknown.
func Sniff(data []byte) Format {
	if len(data) < SignatureLen {
		return FormatUnknown
	}
	head := data[:SignatureLen]
	for _, sig := range signatures {
		if bytes.HasPrefix(head, sig.magic) {
			return sig.format
		}
	}
	// MPEG audio frame sync without an ID3 tag.
	if head[0] == 0xFF && head[1]&0xE0 == 0xE0 {
		return FormatMP3
	}
	return FormatUnknown
}

// ParseFormat maps a configuration value to a Format.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatWebM, FormatOgg, FormatWAV, FormatMP3:
		return f, nil
	case "matroska", "mkv":
		return FormatWebM, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown audio format %q", raw)
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatWebM:
		return "audio/webm"
	case FormatOgg:
		return "audio/ogg"
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension, including the dot, used when a
// provider infers the codec from a file name.
func (f Format) Extension() string {
	switch f {
	case FormatUnknown:
		return ".bin"
	default:
		return "." + string(f)
	}
}
