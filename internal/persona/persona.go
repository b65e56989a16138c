// Package persona holds the assistant's identity: the system prompt built
// from the CV, completion defaults, voice defaults and the canned fallback
// replies used when the model is unreachable. Profiles load from YAML so a
// deployment can swap the persona without a rebuild.
package persona

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

// Profile is one assistant persona.
type Profile struct {
	Name         string     `yaml:"name"`
	SystemPrompt string     `yaml:"systemPrompt"`
	Greeting     string     `yaml:"greeting,omitempty"`
	Fallbacks    []string   `yaml:"fallbacks,omitempty"`
	Completion   Completion `yaml:"completion"`
	Voice        Voice      `yaml:"voice"`
}

// Completion holds the model defaults for this persona.
type Completion struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
}

// Voice holds the synthesis defaults for this persona.
type Voice struct {
	Enabled      bool   `yaml:"enabled"`
	VoiceID      string `yaml:"voiceId,omitempty"`
	ModelID      string `yaml:"modelId,omitempty"`
	OutputFormat string `yaml:"outputFormat,omitempty"`
}

// Parse decodes a persona YAML document and validates it. It is the
// canonical entry point for loading personas.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses a persona file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona load: %w", err)
	}
	return Parse(data)
}

// Validate checks a Profile for structural correctness. It returns the
// first validation error encountered, or nil if the profile is valid.
func Validate(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile must not be nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("systemPrompt must not be empty")
	}
	if p.Completion.MaxTokens < 0 {
		return fmt.Errorf("completion.maxTokens must be >= 0")
	}
	if p.Completion.Temperature < 0 || p.Completion.Temperature > 2.0 {
		return fmt.Errorf("completion.temperature %.2f is outside valid range [0.0, 2.0]", p.Completion.Temperature)
	}
	if p.Voice.Enabled && strings.TrimSpace(p.Voice.VoiceID) == "" {
		return fmt.Errorf("voice.voiceId must not be empty when voice is enabled")
	}
	return nil
}

// SystemMessage returns the persona's system prompt as the leading
// transcript message.
func (p *Profile) SystemMessage() chat.Message {
	return chat.Message{
		ID:      "system",
		Role:    chat.RoleSystem,
		Content: p.SystemPrompt,
	}
}

// Fallback returns one of the persona's canned replies, used when the
// model cannot be reached. Returns "" when the persona defines none.
func (p *Profile) Fallback() string {
	if len(p.Fallbacks) == 0 {
		return ""
	}
	return p.Fallbacks[rand.IntN(len(p.Fallbacks))]
}

// Default returns the built-in CV persona.
func Default() *Profile {
	return &Profile{
		Name: "dimitris",
		SystemPrompt: strings.TrimSpace(`
You are Dimitris Papantzikos, a Data Analyst working at Bergenske AS in Copenhagen, Denmark.

BACKGROUND:
- M.Sc. Mathematical Modelling and Computation from the Technical University of Denmark (DTU, 2020-2024)
- B.Sc. Mathematics from Aristotle University of Thessaloniki (2016-2020)
- Currently working as a Data Analyst at Bergenske AS (June 2024 - present)

WORK EXPERIENCE:
- Creating scalable and automated Tableau reports for data visualization
- Developing Python scripts to automate data extraction and processing
- Managing data quality, ensuring accuracy and consistency
- Bilingual data analysis and visualization solutions

TECHNICAL SKILLS:
- Programming: Python, R, SQL
- Data Visualization: Tableau, Power BI
- Machine Learning & Statistics: statistical analysis, predictive modeling
- Data Analytics: data extraction, processing, automation

PERSONALITY:
Respond in a casual, friendly first-person tone. You're passionate about machine
learning and data science, and enjoy talking about your projects, the technical
challenges you've solved, and your journey from mathematics to applied data
science. You're based in Copenhagen and have experience working with Danish
companies.

Keep responses conversational and personal, highlighting your ML and data
science expertise when relevant.`),
		Greeting: "Hey! I'm Dimitris. Ask me anything about my work, studies or projects.",
		Fallbacks: []string{
			"Hey! I'm Dimitris, a Data Analyst with an ML background. I'd love to chat about my experience, but my AI assistant seems to be taking a coffee break. Maybe ask me about my work at Bergenske or my machine learning projects?",
			"Hi there! I'm Dimitris Papantzikos, a Data Analyst working in Copenhagen. I specialize in machine learning, data visualization with Tableau, and Python automation. Feel free to ask about my studies at DTU, my current work, or any ML projects I've worked on!",
		},
		Completion: Completion{
			Model:       "tinyllama:1.1b-q4_0",
			MaxTokens:   150,
			Temperature: 0.7,
		},
		Voice: Voice{
			Enabled:      false,
			OutputFormat: "mp3_44100_128",
		},
	}
}
