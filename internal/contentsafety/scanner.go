// Package contentsafety screens outbound chat text for leaked contact
// information (phone numbers, emails, URLs, postal addresses) before it is
// persisted. Parties must not bypass the platform's paid introduction by
// trading direct contact details mid-negotiation.
package contentsafety

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chambalink/backend/internal/apperr"
)

type Mode string

const (
	ModeBlock  Mode = "block"
	ModeRedact Mode = "redact"
	ModeIgnore Mode = "ignore"
)

type Kind string

const (
	KindPhone   Kind = "phone"
	KindEmail   Kind = "email"
	KindURL     Kind = "url"
	KindAddress Kind = "address"
)

// Finding is one matched span. Transient: findings are never persisted.
type Finding struct {
	Kind  Kind
	Match string
}

type Config struct {
	Mode Mode
	// Placeholders override the per-kind redaction tokens.
	Placeholders map[Kind]string
}

var defaultPlaceholders = map[Kind]string{
	KindPhone:   "[teléfono oculto]",
	KindEmail:   "[correo oculto]",
	KindURL:     "[enlace oculto]",
	KindAddress: "[dirección oculta]",
}

type family struct {
	kind     Kind
	patterns []*regexp.Regexp
}

var (
	urlRe   = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"]+`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9][A-Za-z0-9.\-]*\.[A-Za-z]{2,}`)
	// Seven or more digits with optional separators and country code.
	phoneRe = regexp.MustCompile(`\+?\d(?:[\s\-.()]*\d){6,}`)
	// Street-type keywords followed by a name and optional house number.
	streetRe = regexp.MustCompile(`(?i)\b(?:calle|avenida|av|blvd|boulevard|carretera|privada|colonia|col|street|avenue|road)\.?\s+[A-Za-zÁÉÍÓÚÑáéíóúñ0-9]+(?:\s+\d+[A-Za-z]?)?`)
	postalRe = regexp.MustCompile(`\b\d{5}\b`)
)

// Matching runs family by family in a fixed order over the progressively
// redacted text, so a URL's digit run is not also counted as a phone number.
var families = []family{
	{kind: KindURL, patterns: []*regexp.Regexp{urlRe}},
	{kind: KindEmail, patterns: []*regexp.Regexp{emailRe}},
	{kind: KindPhone, patterns: []*regexp.Regexp{phoneRe}},
	{kind: KindAddress, patterns: []*regexp.Regexp{streetRe, postalRe}},
}

// Scanner is pure and safe for concurrent use.
type Scanner struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Scanner {
	if cfg.Mode == "" {
		cfg.Mode = ModeBlock
	}
	merged := make(map[Kind]string, len(defaultPlaceholders))
	for k, v := range defaultPlaceholders {
		merged[k] = v
	}
	for k, v := range cfg.Placeholders {
		merged[k] = v
	}
	cfg.Placeholders = merged
	return &Scanner{cfg: cfg, log: log.With().Str("component", "content-safety").Logger()}
}

func (s *Scanner) Mode() Mode { return s.cfg.Mode }

// normalize undoes common whitespace obfuscation before matching.
func normalize(text string) string {
	replacer := strings.NewReplacer(
		" ", " ", // NBSP
		" ", " ", // narrow NBSP
		" ", " ",
		"​", "", // zero-width space
		"‌", "",
		"‍", "",
		"\uFEFF", "",
	)
	return replacer.Replace(text)
}

// Scan detects all contact findings in text and returns the redacted form.
// All families are evaluated; detection never stops at the first hit. The
// caller decides what to do with the result based on the configured mode.
func (s *Scanner) Scan(text string) (string, []Finding) {
	out := normalize(text)
	var findings []Finding

	for _, fam := range families {
		placeholder := s.cfg.Placeholders[fam.kind]
		for _, re := range fam.patterns {
			// One pass per pattern. Rescanning the substituted text would
			// loop forever if a placeholder happens to match its own pattern.
			locs := re.FindAllStringIndex(out, -1)
			if len(locs) == 0 {
				continue
			}
			var b strings.Builder
			prev := 0
			for _, loc := range locs {
				findings = append(findings, Finding{Kind: fam.kind, Match: out[loc[0]:loc[1]]})
				b.WriteString(out[prev:loc[0]])
				b.WriteString(placeholder)
				prev = loc[1]
			}
			b.WriteString(out[prev:])
			out = b.String()
		}
	}
	return out, findings
}

// Gate applies the configured policy to an outbound message and returns the
// text to persist.
func (s *Scanner) Gate(text string) (string, []Finding, error) {
	sanitized, findings := s.Scan(text)
	if len(findings) == 0 {
		return text, nil, nil
	}

	switch s.cfg.Mode {
	case ModeIgnore:
		return text, findings, nil
	case ModeRedact:
		s.log.Debug().Int("findings", len(findings)).Msg("redacted outbound message")
		return sanitized, findings, nil
	default: // block
		kinds := map[Kind]bool{}
		var parts []string
		for _, f := range findings {
			if !kinds[f.Kind] {
				kinds[f.Kind] = true
				parts = append(parts, string(f.Kind))
			}
		}
		return "", findings, apperr.New(apperr.CodePersonalData,
			"message contains contact details ("+strings.Join(parts, ", ")+"); share them after the deal is closed")
	}
}
