package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleGrantsFile holds the role -> permission mapping handed to the engine's authorizer.
//
//	roles:
//	  admin: ["*"]
//	  contributor: ["data_point:write", "data_point:update_status"]
type RoleGrantsFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadRoleGrants reads ROLE_GRANTS_FILE. It returns nil (not an error) when
// the variable is unset or the file does not exist, so built-in grants apply.
func LoadRoleGrants() (map[string][]string, error) {
	path := strings.TrimSpace(os.Getenv("ROLE_GRANTS_FILE"))
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRoleGrants(data)
}

func ParseRoleGrants(data []byte) (map[string][]string, error) {
	var f RoleGrantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal role grants: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("role grants: no roles defined")
	}
	out := make(map[string][]string, len(f.Roles))
	for role, perms := range f.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, fmt.Errorf("role grants: empty role name")
		}
		for _, p := range perms {
			if p = strings.TrimSpace(p); p != "" {
				out[role] = append(out[role], p)
			}
		}
	}
	return out, nil
}
