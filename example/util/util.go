package util

import "github.com/maeshinshin/lanlink"

// Matcher accepts servers named name, or any server that advertises an
// address when name is empty.
func Matcher(name string) func(lanlink.ServerInfo) bool {
	return func(info lanlink.ServerInfo) bool {
		if info.Address == nil {
			return false
		}
		return name == "" || info.Name == name
	}
}

// Candidates returns the matching entries with one entry per server ID, in
// discovery order.
func Candidates(servers []lanlink.ServerInfo, name string) []lanlink.ServerInfo {
	match := Matcher(name)
	seen := make(map[string]bool)

	var out []lanlink.ServerInfo
	for _, info := range servers {
		if !match(info) {
			continue
		}
		key := info.ID
		if key == "" {
			key = info.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, info)
	}
	return out
}
