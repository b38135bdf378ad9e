package lang

import "testing"

func TestResolvePrecedence(t *testing.T) {
	r := NewResolver("en")
	cases := []struct {
		name string
		in   Input
		want string
	}{
		{"forced wins over everything", Input{Forced: "fr", Detected: "de", Preference: "es", UILocale: "it"}, "fr"},
		{"detected wins over preference", Input{Detected: "de", Preference: "es", UILocale: "it"}, "de"},
		{"preference wins over ui locale", Input{Preference: "es", UILocale: "it"}, "es"},
		{"ui locale wins over default", Input{UILocale: "it"}, "it"},
		{"empty falls back to default", Input{}, "en"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Resolve(tc.in)
			if got.Tag != tc.want {
				t.Fatalf("Resolve(%+v).Tag = %q, want %q", tc.in, got.Tag, tc.want)
			}
		})
	}
}

func TestResolveUnknownTagSkipsToNextSignal(t *testing.T) {
	r := NewResolver("en")
	got := r.Resolve(Input{Forced: "xx", Detected: "fr"})
	if got.Tag != "fr" {
		t.Fatalf("Resolve with unknown forced tag = %q, want %q", got.Tag, "fr")
	}
}

func TestResolveUnknownEverythingFallsBackToDefault(t *testing.T) {
	r := NewResolver("de")
	got := r.Resolve(Input{Forced: "xx", Detected: "yy", Preference: "zz", UILocale: "qq"})
	if got.Tag != "de" {
		t.Fatalf("Resolve all-unknown = %q, want default %q", got.Tag, "de")
	}
}

func TestResolveRegionQualifiedTags(t *testing.T) {
	r := NewResolver("en")
	got := r.Resolve(Input{Detected: "pt-PT"})
	if got.Tag != "pt" {
		t.Fatalf("Resolve(pt-PT) = %q, want %q", got.Tag, "pt")
	}
	got = r.Resolve(Input{Detected: "en_GB"})
	if got.Tag != "en" {
		t.Fatalf("Resolve(en_GB) = %q, want %q", got.Tag, "en")
	}
}

func TestResolvedProfileIsComplete(t *testing.T) {
	r := NewResolver("en")
	p := r.Resolve(Input{Forced: "ja"})
	if p.RecognizerLocale != "ja-JP" {
		t.Fatalf("RecognizerLocale = %q, want %q", p.RecognizerLocale, "ja-JP")
	}
	if p.SynthesisVoiceID == "" || p.FallbackVoiceID == "" || p.PromptTemplate == "" {
		t.Fatalf("profile has empty fields: %+v", p)
	}
}

func TestNewResolverUnknownDefaultFallsBackToEnglish(t *testing.T) {
	r := NewResolver("klingon")
	if r.Default().Tag != "en" {
		t.Fatalf("Default().Tag = %q, want %q", r.Default().Tag, "en")
	}
}
