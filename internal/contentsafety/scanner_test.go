package contentsafety

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanner(t *testing.T, mode Mode) *Scanner {
	t.Helper()
	return New(Config{Mode: mode}, zerolog.Nop())
}

func kinds(findings []Finding) map[Kind]int {
	out := map[Kind]int{}
	for _, f := range findings {
		out[f.Kind]++
	}
	return out
}

func TestScanDetectsPhoneAndEmail(t *testing.T) {
	s := newScanner(t, ModeBlock)

	_, findings := s.Scan("Whats 8123456789 y mail test+ok@mail.com")

	got := kinds(findings)
	assert.Equal(t, 1, got[KindPhone])
	assert.Equal(t, 1, got[KindEmail])
	assert.Len(t, findings, 2)
}

func TestScanRedactsAllFamilies(t *testing.T) {
	s := newScanner(t, ModeRedact)

	redacted, findings := s.Scan("Tel 81-2345-6789, email a@b.com, calle Reforma 123")

	got := kinds(findings)
	assert.Equal(t, 1, got[KindPhone])
	assert.Equal(t, 1, got[KindEmail])
	assert.Equal(t, 1, got[KindAddress])

	assert.Contains(t, redacted, "[teléfono oculto]")
	assert.Contains(t, redacted, "[correo oculto]")
	assert.Contains(t, redacted, "[dirección oculta]")
	assert.NotContains(t, redacted, "2345")
	assert.NotContains(t, redacted, "a@b.com")
	assert.NotContains(t, redacted, "Reforma")
}

func TestScanURLDigitsAreNotAPhone(t *testing.T) {
	s := newScanner(t, ModeBlock)

	redacted, findings := s.Scan("mira https://sitio.mx/promo/8123456789 hoy")

	got := kinds(findings)
	assert.Equal(t, 1, got[KindURL])
	assert.Zero(t, got[KindPhone], "digits inside a URL must not double-count as a phone")
	assert.Contains(t, redacted, "[enlace oculto]")
}

func TestScanNormalizesObfuscatedWhitespace(t *testing.T) {
	s := newScanner(t, ModeBlock)

	// NBSP and zero-width characters between the digits.
	_, findings := s.Scan("llámame al 81 23​45 67​89")

	got := kinds(findings)
	assert.Equal(t, 1, got[KindPhone])
}

func TestScanCleanTextHasNoFindings(t *testing.T) {
	s := newScanner(t, ModeBlock)

	redacted, findings := s.Scan("¿Puedes venir el martes a las 10? El tomo 2 cuesta 450")

	assert.Empty(t, findings)
	assert.Equal(t, "¿Puedes venir el martes a las 10? El tomo 2 cuesta 450", redacted)
}

func TestGateBlockMode(t *testing.T) {
	s := newScanner(t, ModeBlock)

	text, findings, err := s.Gate("escríbeme a juan@ejemplo.mx")
	require.Error(t, err)
	assert.Empty(t, text)
	assert.NotEmpty(t, findings)
	assert.Contains(t, err.Error(), "PERSONAL_DATA_BLOCKED")
}

func TestGateRedactMode(t *testing.T) {
	s := newScanner(t, ModeRedact)

	text, findings, err := s.Gate("escríbeme a juan@ejemplo.mx")
	require.NoError(t, err)
	assert.NotEmpty(t, findings)
	assert.Equal(t, "escríbeme a [correo oculto]", text)
}

func TestGateIgnoreMode(t *testing.T) {
	s := newScanner(t, ModeIgnore)

	text, findings, err := s.Gate("escríbeme a juan@ejemplo.mx")
	require.NoError(t, err)
	assert.NotEmpty(t, findings, "detection still runs under ignore")
	assert.Equal(t, "escríbeme a juan@ejemplo.mx", text)
}

func TestGatePassesCleanText(t *testing.T) {
	s := newScanner(t, ModeBlock)

	text, findings, err := s.Gate("perfecto, nos vemos el lunes")
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, "perfecto, nos vemos el lunes", text)
}

func TestCustomPlaceholders(t *testing.T) {
	s := New(Config{
		Mode:         ModeRedact,
		Placeholders: map[Kind]string{KindEmail: "[removed]"},
	}, zerolog.Nop())

	text, _, err := s.Gate("contacto: juan@ejemplo.mx")
	require.NoError(t, err)
	assert.Equal(t, "contacto: [removed]", text)
}

func TestScanTerminatesWithSelfMatchingPlaceholder(t *testing.T) {
	// An operator may configure a placeholder that itself matches the family
	// pattern. The sweep must stay single-pass and not chase its own output.
	s := New(Config{
		Mode:         ModeRedact,
		Placeholders: map[Kind]string{KindEmail: "oculto@redactado.mx"},
	}, zerolog.Nop())

	out, findings := s.Scan("escríbeme a juan@ejemplo.mx por favor")

	assert.Equal(t, "escríbeme a oculto@redactado.mx por favor", out)
	require.Len(t, findings, 1)
	assert.Equal(t, KindEmail, findings[0].Kind)
	assert.Equal(t, "juan@ejemplo.mx", findings[0].Match)
}
