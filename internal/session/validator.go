package session

import (
	"fmt"
	"slices"

	"github.com/sjawhar/livescribe/internal/audio"
)

// MinChunkBytes is the default smallest audio chunk accepted.
const MinChunkBytes = 1000

// Policy describes which audio chunks a source may submit.
type Policy struct {
	MinBytes         int
	RequireSignature bool
	Formats          []audio.Format
}

func DefaultPolicy() Policy {
	return Policy{
		MinBytes:         MinChunkBytes,
		RequireSignature: true,
		Formats:          []audio.Format{audio.FormatWebM},
	}
}

type Validator struct {
	policies map[AudioSource]Policy
}

// NewValidator builds a Validator. Sources missing from policies use
// DefaultPolicy.
func NewValidator(policies map[AudioSource]Policy) *Validator {
	v := &Validator{policies: make(map[AudioSource]Policy, len(policies))}
	for source, p := range policies {
		v.policies[source] = p
	}
	return v
}

func (v *Validator) Policy(source AudioSource) Policy {
	if v != nil {
		if p, ok := v.policies[source]; ok {
			return p
		}
	}
	return DefaultPolicy()
}

// Validate reports why data may not be accepted from source, or nil.
func (v *Validator) Validate(source AudioSource, data []byte) error {
	p := v.Policy(source)

	if len(data) < p.MinBytes {
		return fmt.Errorf("%w: %d < %d bytes", ErrChunkTooSmall, len(data), p.MinBytes)
	}
	if !p.RequireSignature {
		return nil
	}

	format := audio.Sniff(data)
	if format == audio.FormatUnknown || !slices.Contains(p.Formats, format) {
		return fmt.Errorf("%w: %x", ErrBadSignature, head(data, audio.SignatureLen))
	}
	return nil
}

func head(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}
