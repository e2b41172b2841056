package cli

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ctxmap"
)

// PolicyFile is the on-disk policy document: the declarative policy set
// plus optional context-mapping overrides.
//
//	policies:
//	  - entity: posts
//	    operation: select
//	    expression: visibility = 'public' OR owner_id = current_user_id()
//	  - entity: posts
//	    operation: delete
//	    expression: owner_id = current_user_id()
//	    roles: [admin]
//	mapping:
//	  - provider: app.tenant_id
//	    path: [tenant_id]
type PolicyFile struct {
	Policies []rowguard.Policy `json:"policies"`
	Mapping  []ctxmap.Entry    `json:"mapping,omitempty"`
}

// ParsePolicyFile parses a YAML policy document and validates every policy
// in it.
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	for _, p := range pf.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &pf, nil
}

// LoadPolicyFile reads and parses the YAML policy document at path.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	pf, err := ParsePolicyFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pf, nil
}

// LoadMappingFile reads context-mapping overrides from a standalone YAML
// file holding a bare list of provider entries.
func LoadMappingFile(path string) ([]ctxmap.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	var entries []ctxmap.Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	return entries, nil
}
