// policy/registry.go
package policy

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape of a vault policy file.
//
//	default:
//	  required_steps: [twitterFollow, retweet, like, tweetPosted, telegram, discord, linkedin]
//	vaults:
//	  "112":
//	    add_steps: [secondRetweet, secondLike]
//	    remove_steps: [linkedin, twitterFollowSponsor2]
//	    content:
//	      second_retweet_content: "..."
type policyFile struct {
	Default *policyEntry           `yaml:"default"`
	Vaults  map[string]policyEntry `yaml:"vaults"`
}

type policyEntry struct {
	RequiredSteps []string `yaml:"required_steps"`
	AddSteps      []string `yaml:"add_steps"`
	RemoveSteps   []string `yaml:"remove_steps"`
	Targets       Targets  `yaml:"targets"`
	Content       Content  `yaml:"content"`
	Links         Links    `yaml:"links"`
}

// Registry maps vault ids to policies. Lookups for unknown vaults return a
// copy of the default policy.
type Registry struct {
	mu       sync.RWMutex
	fallback VaultPolicy
	vaults   map[string]VaultPolicy
}

// NewRegistry returns a registry holding only the built-in default policy.
func NewRegistry() *Registry {
	return &Registry{
		fallback: Default(""),
		vaults:   make(map[string]VaultPolicy),
	}
}

// LoadFile reads a YAML policy file. A missing path yields the built-in defaults.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var pf policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("decode policy yaml: %w", err)
	}

	reg := NewRegistry()
	if pf.Default != nil {
		p, err := pf.Default.apply(Default(""))
		if err != nil {
			return nil, fmt.Errorf("default policy: %w", err)
		}
		reg.fallback = p
	}
	for id, entry := range pf.Vaults {
		base := reg.fallback.Clone()
		base.VaultID = id
		p, err := entry.apply(base)
		if err != nil {
			return nil, fmt.Errorf("vault %s policy: %w", id, err)
		}
		reg.vaults[id] = p
	}
	return reg, nil
}

func (e policyEntry) apply(base VaultPolicy) (VaultPolicy, error) {
	out := base.Clone()
	if len(e.RequiredSteps) > 0 {
		out.RequiredSteps = NewStepSet()
		for _, s := range e.RequiredSteps {
			k, ok := ParseStep(s)
			if !ok {
				return out, fmt.Errorf("unknown step %q", s)
			}
			out.RequiredSteps.Add(k)
		}
	}
	for _, s := range e.AddSteps {
		k, ok := ParseStep(s)
		if !ok {
			return out, fmt.Errorf("unknown step %q", s)
		}
		out.RequiredSteps.Add(k)
	}
	for _, s := range e.RemoveSteps {
		k, ok := ParseStep(s)
		if !ok {
			return out, fmt.Errorf("unknown step %q", s)
		}
		out.RequiredSteps.Remove(k)
	}
	mergeTargets(&out.Targets, e.Targets)
	mergeContent(&out.Content, e.Content)
	mergeLinks(&out.Links, e.Links)
	return out, nil
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeTargets(dst *Targets, src Targets) {
	mergeString(&dst.SponsorTwitterID, src.SponsorTwitterID)
	mergeString(&dst.Sponsor2TwitterID, src.Sponsor2TwitterID)
	mergeString(&dst.LikeTweetID, src.LikeTweetID)
	mergeString(&dst.SecondLikeTweetID, src.SecondLikeTweetID)
	mergeString(&dst.SponsorTwitterHandle, src.SponsorTwitterHandle)
	mergeString(&dst.Sponsor2TwitterHandle, src.Sponsor2TwitterHandle)
}

func mergeContent(dst *Content, src Content) {
	mergeString(&dst.RetweetContent, src.RetweetContent)
	mergeString(&dst.SecondRetweetContent, src.SecondRetweetContent)
	mergeString(&dst.TweetContent, src.TweetContent)
}

func mergeLinks(dst *Links, src Links) {
	mergeString(&dst.Telegram, src.Telegram)
	mergeString(&dst.Discord, src.Discord)
	mergeString(&dst.LinkedIn, src.LinkedIn)
	mergeString(&dst.Extra, src.Extra)
}

// Set registers p under its vault id, replacing any previous entry.
func (r *Registry) Set(p VaultPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vaults[p.VaultID] = p.Clone()
}

// Lookup returns the policy for vaultID.
func (r *Registry) Lookup(vaultID string) VaultPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.vaults[vaultID]; ok {
		return p.Clone()
	}
	p := r.fallback.Clone()
	p.VaultID = vaultID
	return p
}
