package bot

import (
	"encoding/json"
	"strings"
)

const (
	systemPromptPrefix        = "system://"
	promptDescriptionMaxRunes = 100
)

// Prompt is an entry in the tool server's prompt catalog
type Prompt struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// IsSystem reports whether the prompt seeds the system instruction,
// rather than being offered to users
func (p Prompt) IsSystem() bool {
	return strings.HasPrefix(p.ID, systemPromptPrefix)
}

// promptSet is an immutable, partitioned prompt catalog. A new set
// replaces the old one as a whole.
type promptSet struct {
	System []Prompt
	User   []Prompt
}

func newPromptSet(prompts []Prompt) *promptSet {
	ps := &promptSet{
		System: []Prompt{},
		User:   []Prompt{},
	}
	for _, p := range prompts {
		if p.IsSystem() {
			ps.System = append(ps.System, p)
			continue
		}
		p.Description = truncate(p.Description, promptDescriptionMaxRunes)
		ps.User = append(ps.User, p)
	}
	return ps
}

// ServiceCatalog is the list of services the command center may manage
type ServiceCatalog []string

// String returns the services as a comma-separated list
func (s ServiceCatalog) String() string {
	return strings.Join(s, ", ")
}

// parseServiceCatalog reads service names from resource text. Each
// content is either a JSON array of names, or names separated by
// commas or newlines.
func parseServiceCatalog(contents []string) ServiceCatalog {
	services := ServiceCatalog{}
	for _, c := range contents {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		var names []string
		if err := json.Unmarshal([]byte(c), &names); err == nil {
			for _, n := range names {
				if n = strings.TrimSpace(n); n != "" {
					services = append(services, n)
				}
			}
			continue
		}
		fields := strings.FieldsFunc(
			c, func(r rune) bool {
				return r == ',' || r == '\n'
			},
		)
		for _, f := range fields {
			if f = strings.TrimSpace(f); f != "" {
				services = append(services, f)
			}
		}
	}
	return services
}
