package lang

import "strings"

// Profile is the resolved locale bundle for one language: the recognizer
// locale, the synthesis voices, and the prompt template used when asking the
// brain to reply in that language. Profiles are immutable values; a language
// change produces a new Profile rather than mutating the old one.
type Profile struct {
	Tag              string
	RecognizerLocale string
	SynthesisVoiceID string
	FallbackVoiceID  string
	PromptTemplate   string
}

// Input carries every signal that can influence language selection for a
// turn. Precedence, highest first: Forced > Detected > Preference > UILocale,
// then the resolver default.
type Input struct {
	Forced     string
	Detected   string
	Preference string
	UILocale   string
}

// Resolver maps language tags to profiles. It is a pure lookup: no I/O, safe
// for concurrent use.
type Resolver struct {
	profiles   map[string]Profile
	defaultTag string
}

const promptTemplate = "You are a spoken conversation partner. Reply in %LANGUAGE% with short, speakable sentences."

var builtinProfiles = []Profile{
	{Tag: "en", RecognizerLocale: "en-US", SynthesisVoiceID: "voice-en-nova", FallbackVoiceID: "com.device.voice.en-US", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "English")},
	{Tag: "es", RecognizerLocale: "es-ES", SynthesisVoiceID: "voice-es-lumen", FallbackVoiceID: "com.device.voice.es-ES", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "Spanish")},
	{Tag: "fr", RecognizerLocale: "fr-FR", SynthesisVoiceID: "voice-fr-eclair", FallbackVoiceID: "com.device.voice.fr-FR", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "French")},
	{Tag: "de", RecognizerLocale: "de-DE", SynthesisVoiceID: "voice-de-brandt", FallbackVoiceID: "com.device.voice.de-DE", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "German")},
	{Tag: "it", RecognizerLocale: "it-IT", SynthesisVoiceID: "voice-it-aria", FallbackVoiceID: "com.device.voice.it-IT", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "Italian")},
	{Tag: "pt", RecognizerLocale: "pt-BR", SynthesisVoiceID: "voice-pt-mar", FallbackVoiceID: "com.device.voice.pt-BR", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "Portuguese")},
	{Tag: "hi", RecognizerLocale: "hi-IN", SynthesisVoiceID: "voice-hi-tara", FallbackVoiceID: "com.device.voice.hi-IN", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "Hindi")},
	{Tag: "ja", RecognizerLocale: "ja-JP", SynthesisVoiceID: "voice-ja-hikari", FallbackVoiceID: "com.device.voice.ja-JP", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "Japanese")},
	{Tag: "zh", RecognizerLocale: "zh-CN", SynthesisVoiceID: "voice-zh-ling", FallbackVoiceID: "com.device.voice.zh-CN", PromptTemplate: strings.ReplaceAll(promptTemplate, "%LANGUAGE%", "Chinese")},
}

// NewResolver builds a resolver over the builtin profile table. defaultTag
// picks the profile used when no input signal resolves; unknown defaults fall
// back to English.
func NewResolver(defaultTag string) *Resolver {
	profiles := make(map[string]Profile, len(builtinProfiles))
	for _, p := range builtinProfiles {
		profiles[p.Tag] = p
	}
	defaultTag = canonicalTag(defaultTag)
	if _, ok := profiles[defaultTag]; !ok {
		defaultTag = "en"
	}
	return &Resolver{profiles: profiles, defaultTag: defaultTag}
}

// Resolve picks the highest-precedence input signal that maps to a known
// profile. Unknown tags are skipped rather than erroring, so a bogus detected
// language still resolves via the remaining signals.
func (r *Resolver) Resolve(in Input) Profile {
	for _, tag := range []string{in.Forced, in.Detected, in.Preference, in.UILocale} {
		if p, ok := r.lookup(tag); ok {
			return p
		}
	}
	return r.profiles[r.defaultTag]
}

// Default returns the resolver's fallback profile.
func (r *Resolver) Default() Profile {
	return r.profiles[r.defaultTag]
}

// Tags lists the supported language tags in stable order.
func (r *Resolver) Tags() []string {
	out := make([]string, 0, len(builtinProfiles))
	for _, p := range builtinProfiles {
		out = append(out, p.Tag)
	}
	return out
}

func (r *Resolver) lookup(tag string) (Profile, bool) {
	tag = canonicalTag(tag)
	if tag == "" {
		return Profile{}, false
	}
	if p, ok := r.profiles[tag]; ok {
		return p, true
	}
	// Region-qualified tags resolve through their base language subtag.
	if base, _, found := strings.Cut(tag, "-"); found {
		if p, ok := r.profiles[base]; ok {
			return p, true
		}
	}
	return Profile{}, false
}

func canonicalTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.ReplaceAll(tag, "_", "-")
}
