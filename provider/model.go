package provider

import "strings"

// ModelReference is a parsed "provider:modelId" string.
// Provider is empty when the string carried no recognized prefix.
type ModelReference struct {
	Provider Kind
	ModelID  string
}

// ParseModelReference splits s on its first colon when the prefix is a known
// provider kind. Anything else is kept verbatim as the model id, so
// "deepseek/deepseek-r1:reasoning" and "llama3:8b" stay unprefixed.
func ParseModelReference(s string) ModelReference {
	s = strings.TrimSpace(s)
	prefix, rest, ok := strings.Cut(s, ":")
	if ok {
		if k, valid := ParseKind(prefix); valid {
			return ModelReference{Provider: k, ModelID: rest}
		}
	}
	return ModelReference{ModelID: s}
}

// String returns the canonical "provider:modelId" form.
func (r ModelReference) String() string {
	if r.Provider == "" {
		return r.ModelID
	}
	return string(r.Provider) + ":" + r.ModelID
}
