// Package script drafts Javanese Kromo Alus texts, a short sermon (kultum) or
// a master-of-ceremonies script (pranatacara), with a text-generation
// provider, and prepares finished texts for reading aloud.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/pkg/provider/llm"
)

// Fallback texts returned in place of a draft when generation fails and the
// generator is not strict.
const (
	SermonFallback = "Nyuwun pangapunten, wonten masalah nalika damel teks kultum. Cobi malih mangke."
	MCFallback     = "Nyuwun pangapunten, wonten masalah nalika damel teks MC. Cobi malih mangke."
)

// Form defaults.
const (
	DefaultSermonTone     = "Inspiratif lan Alus"
	DefaultSermonAudience = "Umum"
	DefaultMCTone         = "Formal lan Alus"
	DefaultMCAgenda       = "1. Pambuko\n2. Waosan Ayat Suci Al-Qur'an\n3. Atur Pambagyaharja\n4. Inti Acara\n5. Doa\n6. Panutup"
)

// SermonRequest describes a kultum to draft.
type SermonRequest struct {
	// Topic is required, e.g. "Kesabaran".
	Topic string

	// Tone is the language style. Default: [DefaultSermonTone].
	Tone string

	// Audience is who the kultum is for. Default: [DefaultSermonAudience].
	Audience string
}

// MCRequest describes an MC script to draft.
type MCRequest struct {
	// Event is the kind of event, e.g. "Pernikahan Adat Jawi". Required.
	Event string

	// Tone is the language style. Default: [DefaultMCTone].
	Tone string

	// Agenda is the event rundown, one item per line. Default: [DefaultMCAgenda].
	Agenda string
}

// Option configures a [Generator].
type Option func(*Generator)

// WithStrict makes generation failures return an error instead of the
// fallback text.
func WithStrict() Option {
	return func(g *Generator) {
		g.strict = true
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithProviderName sets the provider label used on metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(g *Generator) {
		g.name = name
	}
}

// Generator drafts scripts. It is safe for concurrent use.
type Generator struct {
	llm     llm.Provider
	metrics *observe.Metrics
	name    string
	strict  bool
}

// NewGenerator returns a Generator backed by p.
func NewGenerator(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{llm: p, name: "llm"}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Sermon drafts a kultum in Markdown.
func (g *Generator) Sermon(ctx context.Context, req SermonRequest) (string, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return "", errors.New("script: sermon topic must not be empty")
	}
	return g.generate(ctx, "sermon", SermonPrompt(req), SermonFallback)
}

// MC drafts an MC script in Markdown.
func (g *Generator) MC(ctx context.Context, req MCRequest) (string, error) {
	if strings.TrimSpace(req.Event) == "" {
		return "", errors.New("script: mc event must not be empty")
	}
	return g.generate(ctx, "mc", MCPrompt(req), MCFallback)
}

func (g *Generator) generate(ctx context.Context, kind, prompt, fallback string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "script."+kind)
	defer span.End()

	start := time.Now()
	text, err := llm.Generate(ctx, g.llm, prompt)
	g.metrics.RecordProviderCall(ctx, g.name, "llm", time.Since(start), err)
	if err == nil {
		return text, nil
	}

	observe.Fail(span, err)
	if g.strict {
		return "", fmt.Errorf("script: generate %s: %w", kind, err)
	}
	observe.Logger(ctx).Error("script: generation failed, using fallback", "kind", kind, "err", err)
	return fallback, nil
}

// SermonPrompt renders the kultum prompt for req, with defaults applied.
func SermonPrompt(req SermonRequest) string {
	tone := orDefault(req.Tone, DefaultSermonTone)
	audience := orDefault(req.Audience, DefaultSermonAudience)

	var b strings.Builder
	b.WriteString("Gaweaken teks kultum (khutbah singkat) nganggo Boso Jowo Kromo Alus gaya Yogyakarta-Surakarta.\n")
	b.WriteString("Yen ono ayat Al-Qur'an utowo hadits, tulisen nganggo teks Arab asli banjur artine.\n")
	b.WriteString("Gunakake format Markdown kanggo judhul, sub-judul, lan daftar.\n\n")
	fmt.Fprintf(&b, "Topik: %q\n", strings.TrimSpace(req.Topic))
	fmt.Fprintf(&b, "Gaya Bahasa: %s\n", tone)
	fmt.Fprintf(&b, "Kanggo: %s\n\n", audience)
	b.WriteString("Struktur:\n")
	b.WriteString("# Pambuko\n(salam, puji syukur, sholawat)\n")
	b.WriteString("## Isi\n(penjelasan topik, dalil yen saget)\n")
	b.WriteString("### Panutup\n(kesimpulan, dungo, salam)\n")
	return b.String()
}

// MCPrompt renders the MC-script prompt for req, with defaults applied.
func MCPrompt(req MCRequest) string {
	tone := orDefault(req.Tone, DefaultMCTone)
	agenda := orDefault(req.Agenda, DefaultMCAgenda)

	var b strings.Builder
	b.WriteString("Gaweaken teks pranatacara (MC) lengkap nganggo Boso Jowo Kromo Alus gaya Yogyakarta-Surakarta.\n")
	b.WriteString("Yen ono ayat Al-Qur'an utowo kutipan, tulisen nganggo teks Arab asli banjur artine yen perlu.\n")
	b.WriteString("Gunakake format Markdown kanggo judhul, sub-judul, lan kanggo mbedakake saben bagian acara.\n\n")
	fmt.Fprintf(&b, "Jenis Acara: %q\n", strings.TrimSpace(req.Event))
	fmt.Fprintf(&b, "Gaya Bahasa: %q\n", tone)
	fmt.Fprintf(&b, "Rundown Acara (yen wonten):\n%s\n\n", agenda)
	b.WriteString("Struktur Teks MC:\n")
	b.WriteString("# Pambuko\n(salam, atur pakurmatan, puji syukur)\n")
	b.WriteString("## Isi Acara\n(ngaturaken rantamaning acara siji mbaka siji, kanthi basa ingkang runtut)\n")
	b.WriteString("### Panutup\n(nyuwun pangapunten, dungo, salam panutup)\n")
	return b.String()
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
