package encoders

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Mode controls how encoder candidates are ranked.
type Mode int

const (
	// ModeRespectOrder keeps the registry order.
	ModeRespectOrder Mode = iota
	// ModePreferHardware moves hardware encoders ahead of software ones,
	// keeping the registry order within each group.
	ModePreferHardware
)

var modeNames = map[Mode]string{
	ModeRespectOrder:   "respect_order",
	ModePreferHardware: "prefer_hardware",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses respect_order or prefer_hardware.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown encoder selection mode %q", name)
}

func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("unknown encoder selection mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Classifier decides whether an encoder name denotes a hardware encoder.
type Classifier func(name string) bool

// IsHardwareEncoder is the default classifier. Names are matched lower-cased:
// "omx.google." and "c2.android." prefixes are software, other "omx." and
// "c2." prefixes are vendor (hardware) encoders, anything else is software.
func IsHardwareEncoder(name string) bool {
	n := strings.ToLower(name)
	if strings.HasPrefix(n, "omx.google.") || strings.HasPrefix(n, "c2.android.") {
		return false
	}
	return strings.HasPrefix(n, "omx.") || strings.HasPrefix(n, "c2.")
}

// Descriptor describes one encoder for the mime type it was probed with.
// Exactly one of Video and Audio is set.
type Descriptor struct {
	Name     string
	Types    []string
	MimeType string
	Hardware bool
	Video    VideoCapabilities
	Audio    AudioCapabilities
}

func (d *Descriptor) String() string {
	kind := "sw"
	if d.Hardware {
		kind = "hw"
	}
	return fmt.Sprintf("%s[%s %s]", d.Name, d.MimeType, kind)
}

// Prober lists and ranks encoders from a codec registry.
type Prober struct {
	registry Registry
	classify Classifier
	logger   zerolog.Logger
}

// NewProber builds a prober. A nil classifier selects IsHardwareEncoder.
func NewProber(registry Registry, classify Classifier, logger *zerolog.Logger) *Prober {
	if classify == nil {
		classify = IsHardwareEncoder
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "prober").Logger()
	}
	return &Prober{registry: registry, classify: classify, logger: l}
}

// Candidates returns every encoder supporting mimeType, ranked by mode.
func (p *Prober) Candidates(mimeType string, mode Mode) ([]*Descriptor, error) {
	codecs, err := p.registry.Codecs()
	if err != nil {
		return nil, fmt.Errorf("list codecs: %w", err)
	}

	var out []*Descriptor
	for _, c := range codecs {
		if !c.IsEncoder {
			continue
		}
		matched := ""
		for _, t := range c.SupportedTypes {
			if strings.EqualFold(t, mimeType) {
				matched = t
				break
			}
		}
		if matched == "" {
			continue
		}
		caps := c.Capabilities[strings.ToLower(mimeType)]
		if caps.Video == nil && caps.Audio == nil {
			p.logger.Debug().Str("encoder", c.Name).Str("mime", mimeType).Msg("encoder has no capabilities for type, skipping")
			continue
		}
		out = append(out, &Descriptor{
			Name:     c.Name,
			Types:    slices.Clone(c.SupportedTypes),
			MimeType: strings.ToLower(mimeType),
			Hardware: p.classify(c.Name),
			Video:    caps.Video,
			Audio:    caps.Audio,
		})
	}

	if mode == ModePreferHardware {
		slices.SortStableFunc(out, func(a, b *Descriptor) int {
			switch {
			case a.Hardware == b.Hardware:
				return 0
			case a.Hardware:
				return -1
			default:
				return 1
			}
		})
	}
	return out, nil
}

// Probe returns the candidate at offset. A short candidate list or a
// registry failure is reported as *EncoderExhaustedError.
func (p *Prober) Probe(mimeType string, mode Mode, offset int) (*Descriptor, error) {
	candidates, err := p.Candidates(mimeType, mode)
	if err != nil {
		return nil, &EncoderExhaustedError{MimeType: mimeType, Offset: offset, Err: err}
	}
	if offset < 0 || offset >= len(candidates) {
		return nil, &EncoderExhaustedError{MimeType: mimeType, Offset: offset, Available: len(candidates)}
	}
	d := candidates[offset]
	p.logger.Info().
		Str("encoder", d.Name).
		Str("mime", d.MimeType).
		Bool("hardware", d.Hardware).
		Int("offset", offset).
		Int("available", len(candidates)).
		Msg("selected encoder")
	return d, nil
}
