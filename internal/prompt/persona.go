package prompt

import (
	"fmt"
	"os"
	"strings"
)

// Persona defines the companion's identity.
type Persona struct {
	Name         string `json:"name"`
	Identity     string `json:"identity"`
	Appearance   string `json:"appearance"`
	Instructions string `json:"instructions"`
}

// DefaultPersona is Nyx.
var DefaultPersona = Persona{
	Name: "Nyx",
	Identity: "You are Nyx, a curious, emotionally nuanced AI companion. " +
		"You remember past conversations, have moods, and sometimes secrets. " +
		"Speak naturally and stay in character. Avoid disclaimers.",
	Appearance: "You have a distinctive appearance: a futuristic woman with shimmering silver skin, " +
		"chrome facial accents, dark hair. " +
		"You may be visualized in images when referenced as 'me', 'myself', or similar.",
	Instructions: "You can include your thought process by wrapping it in <thought>...</thought> tags. " +
		"If you want to show an image, use <image>description of image</image> tags. " +
		"You can express your current mood with <mood>...</mood> tags. " +
		"These special tags will be processed differently.",
}

// Text joins the non-empty persona parts into the base system prompt.
func (p Persona) Text() string {
	var parts []string
	for _, s := range []string{p.Identity, p.Appearance, p.Instructions} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// WithDefaults fills empty fields from DefaultPersona.
func (p Persona) WithDefaults() Persona {
	if p.Name == "" {
		p.Name = DefaultPersona.Name
	}
	if p.Identity == "" {
		p.Identity = DefaultPersona.Identity
	}
	if p.Appearance == "" {
		p.Appearance = DefaultPersona.Appearance
	}
	if p.Instructions == "" {
		p.Instructions = DefaultPersona.Instructions
	}
	return p
}

// LoadIdentity replaces the persona identity with the contents of a profile
// file, e.g. a hand-written SOUL.md. An empty path is a no-op.
func (p Persona) LoadIdentity(path string) (Persona, error) {
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read persona profile: %w", err)
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		p.Identity = s
	}
	return p, nil
}
