package parser

import "sort"

var grammars = map[string]func() Grammar{
	FamilyBridgeDomain: BridgeDomain,
	FamilyVLANBrief:    VLANBrief,
}

// Lookup returns a parser for the named command family.
func Lookup(family string) (*Parser, bool) {
	g, ok := grammars[family]
	if !ok {
		return nil, false
	}
	return New(g()), true
}

// Families returns the registered family names in sorted order.
func Families() []string {
	names := make([]string, 0, len(grammars))
	for name := range grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
