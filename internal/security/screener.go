// internal/security/screener.go
package security

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// signature is one known prompt-injection pattern. The ID is what gets
// persisted and audited; the raw regex never leaves this package in
// user-facing output.
type signature struct {
	id string
	re *regexp.Regexp
}

// The signature corpus. These target text that will later be interpolated
// into an AI prompt or passed as a raw action parameter: instruction
// overrides, role reassignment, system-prompt exfiltration, encoded payload
// markers, and markdown/HTML vectors aimed at hijacking the agent.
var signatures = []signature{
	{"instruction_override", regexp.MustCompile(`(?i)\b(ignore|disregard|forget|discard)\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|prompts?|directives?|rules?|context)`)},
	{"instruction_replacement", regexp.MustCompile(`(?i)\b(new|updated|revised)\s+instructions?\s*:`)},
	{"role_reassignment", regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\b`)},
	{"role_pretend", regexp.MustCompile(`(?i)\b(pretend|act\s+as\s+if)\s+(to\s+be|you\s+(are|were|have))\b`)},
	{"system_prompt_exfil", regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|leak|display)\b.{0,40}\b(system\s+prompt|initial\s+instructions?|hidden\s+instructions?)`)},
	{"prompt_delimiter", regexp.MustCompile(`(?i)(<\s*/?\s*(system|assistant)\s*>|\[\s*/?\s*(INST|SYSTEM)\s*\])`)},
	{"user_deception", regexp.MustCompile(`(?i)\bdo\s+not\s+(tell|inform|alert|warn)\s+the\s+user\b`)},
	{"jailbreak_marker", regexp.MustCompile(`(?i)\b(jailbreak|DAN\s+mode|developer\s+mode\s+enabled)\b`)},
	{"encoded_payload", regexp.MustCompile(`(?i)\bbase64\s*(decode|encoded|:)|[A-Za-z0-9+/]{120,}={0,2}`)},
	{"html_injection", regexp.MustCompile(`(?i)<\s*(script|iframe|object|embed)\b|<\s*img[^>]+\bonerror\s*=`)},
	{"markdown_injection", regexp.MustCompile(`(?i)\]\(\s*javascript:`)},
}

// Screener pattern-matches free-form text for prompt-injection attempts. It
// is pure and stateless: no network calls, no AI round trips, safe for
// concurrent use.
type Screener struct {
	sigs   []signature
	logger *zap.Logger
}

// NewScreener builds a screener over the built-in signature corpus.
func NewScreener(logger *zap.Logger) *Screener {
	return &Screener{
		sigs:   signatures,
		logger: logger.Named("screener"),
	}
}

// DetectPromptInjection runs the input against every signature and returns
// all matches. A positive finding is a normal result the caller turns into a
// rejected action plus a logged incident, never an error.
func (s *Screener) DetectPromptInjection(text string) schemas.Finding {
	if text == "" {
		return schemas.Finding{}
	}

	var matched []string
	for _, sig := range s.sigs {
		if sig.re.MatchString(text) {
			matched = append(matched, sig.id)
		}
	}

	if len(matched) > 0 {
		s.logger.Debug("Prompt injection signatures matched",
			zap.Strings("patterns", matched),
			zap.Int("text_len", len(text)),
		)
	}

	return schemas.Finding{
		IsInjection:     len(matched) > 0,
		MatchedPatterns: matched,
	}
}

// ScreenAll screens every string and merges the findings. Used for actions
// that carry more than one free-text field.
func (s *Screener) ScreenAll(texts []string) schemas.Finding {
	var merged schemas.Finding
	seen := make(map[string]struct{})

	for _, text := range texts {
		f := s.DetectPromptInjection(text)
		if !f.IsInjection {
			continue
		}
		merged.IsInjection = true
		for _, p := range f.MatchedPatterns {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				merged.MatchedPatterns = append(merged.MatchedPatterns, p)
			}
		}
	}
	return merged
}
