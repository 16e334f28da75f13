// Package agent defines agent profiles and runs a profile's tool loop
// against the completion client.
package agent

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const DefaultName = "default"

var (
	ErrUnknownAgent = errors.New("agent: unknown agent")
	ErrInvalidName  = errors.New("agent: invalid agent name")

	namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)
)

// Profile configures one agent: its prompt, the tools it may call and the
// model it runs on. The agent name also namespaces its long-term memory.
type Profile struct {
	Name              string   `yaml:"name" json:"name"`
	Description       string   `yaml:"description,omitempty" json:"description,omitempty"`
	SystemPrompt      string   `yaml:"system_prompt" json:"-"`
	Tools             []string `yaml:"tools,omitempty" json:"tools"`
	Model             string   `yaml:"model,omitempty" json:"model,omitempty"`
	MaxToolIterations int      `yaml:"max_tool_iterations,omitempty" json:"-"`
}

const defaultSystemPrompt = `You are a helpful assistant. Use the conversation memory and knowledge provided with each message when they are relevant, and use tools when a task needs them. Answer concisely.`

// DefaultProfile is served when no profile file is configured.
func DefaultProfile() Profile {
	return Profile{
		Name:         DefaultName,
		Description:  "General assistant with arithmetic tools.",
		SystemPrompt: defaultSystemPrompt,
		Tools:        []string{"add", "subtract", "multiply", "divide", "calculate", "generate_random_number"},
	}
}

// ValidName reports whether name can be used as an agent name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

type profileFile struct {
	Agents []Profile `yaml:"agents"`
}

// ParseProfiles decodes a profile document.
func ParseProfiles(raw []byte) ([]Profile, error) {
	var doc profileFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode agent profiles: %w", err)
	}
	seen := make(map[string]bool, len(doc.Agents))
	for i := range doc.Agents {
		p := &doc.Agents[i]
		p.Name = strings.TrimSpace(p.Name)
		if !ValidName(p.Name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate agent %q", p.Name)
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.SystemPrompt) == "" {
			p.SystemPrompt = defaultSystemPrompt
		}
	}
	return doc.Agents, nil
}

// Catalog is the live set of profiles.
type Catalog struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewCatalog returns a catalog holding the given profiles. The default
// profile is added unless one named "default" is present.
func NewCatalog(profiles ...Profile) *Catalog {
	c := &Catalog{}
	c.Replace(profiles)
	return c
}

// LoadCatalog reads a profile file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(), nil
	}
	profiles, err := readProfiles(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(profiles...), nil
}

func readProfiles(path string) ([]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent profiles: %w", err)
	}
	return ParseProfiles(raw)
}

// Replace swaps in a new profile set.
func (c *Catalog) Replace(profiles []Profile) {
	next := make(map[string]Profile, len(profiles)+1)
	for _, p := range profiles {
		next[p.Name] = p
	}
	if _, ok := next[DefaultName]; !ok {
		next[DefaultName] = DefaultProfile()
	}
	c.mu.Lock()
	c.profiles = next
	c.mu.Unlock()
}

// Get returns the named profile.
func (c *Catalog) Get(name string) (Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return p, nil
}

// List returns all profiles sorted by name.
func (c *Catalog) List() []Profile {
	c.mu.RLock()
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
