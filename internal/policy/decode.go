package policy

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxDepth = 64

// Error describes an invalid policy shape found while decoding.
type Error struct {
	Path string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("keywords%s (line %d): %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("keywords%s: %s", e.Path, e.Msg)
}

// UnmarshalYAML builds the variant tree from a YAML node.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := FromNode(node)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// Parse decodes a YAML document into a policy.
func Parse(data []byte) (*Policy, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse keywords: %w", err)
	}
	return FromNode(&node)
}

// FromNode validates node and converts it into a policy tree. A nil node
// yields the empty policy.
func FromNode(node *yaml.Node) (*Policy, error) {
	if node == nil {
		return Empty(), nil
	}
	d := decoder{}
	return d.node(node, "", nil, 0)
}

type decoder struct{}

func (d decoder) node(node *yaml.Node, path string, inherited *Policy, depth int) (*Policy, error) {
	if depth > maxDepth {
		return nil, &Error{Path: path, Line: node.Line, Msg: "policy is nested too deeply"}
	}

	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Empty(), nil
		}
		return d.node(node.Content[0], path, inherited, depth)
	case yaml.AliasNode:
		return d.node(node.Alias, path, inherited, depth+1)
	case yaml.MappingNode:
		return d.mapping(node, path, inherited, depth)
	case yaml.SequenceNode:
		return d.sequence(node, path)
	case yaml.ScalarNode:
		return d.scalar(node, path)
	case 0:
		return Empty(), nil
	default:
		return nil, &Error{Path: path, Line: node.Line, Msg: "unsupported node"}
	}
}

func (d decoder) mapping(node *yaml.Node, path string, inherited *Policy, depth int) (*Policy, error) {
	var (
		own   *Policy
		rules []Rule
	)

	// The mapping's own default must be known before its siblings refer to it.
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.ShortTag() != "!!str" || key.Value != defaultToken {
			continue
		}
		childPath := path + "." + defaultToken
		if isDefaultRef(value) {
			if inherited == nil {
				return nil, &Error{Path: childPath, Line: value.Line, Msg: "default refers to itself"}
			}
			own = inherited
			continue
		}
		parsed, err := d.node(value, childPath, inherited, depth+1)
		if err != nil {
			return nil, err
		}
		own = parsed
	}

	scope := inherited
	if own != nil {
		scope = own
	}

	seen := make(map[string]struct{})
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.ShortTag() != "!!str" {
			return nil, &Error{Path: path, Line: key.Line, Msg: fmt.Sprintf("trigger %q must be a string", key.Value)}
		}
		if key.Value == defaultToken {
			continue
		}

		trigger := strings.ToLower(key.Value)
		childPath := path + "." + key.Value
		if strings.TrimSpace(trigger) == "" {
			return nil, &Error{Path: childPath, Line: key.Line, Msg: "trigger must not be blank"}
		}
		if _, dup := seen[trigger]; dup {
			return nil, &Error{Path: childPath, Line: key.Line, Msg: "duplicate trigger"}
		}
		seen[trigger] = struct{}{}

		var child *Policy
		if isDefaultRef(value) {
			if scope == nil {
				return nil, &Error{Path: childPath, Line: value.Line, Msg: "refers to default but no default is defined"}
			}
			child = scope
		} else {
			parsed, err := d.node(value, childPath, scope, depth+1)
			if err != nil {
				return nil, err
			}
			child = parsed
		}

		rules = append(rules, Rule{Trigger: trigger, Child: child})
	}

	return &Policy{kind: KindMapping, rules: rules, fallback: own}, nil
}

func (d decoder) sequence(node *yaml.Node, path string) (*Policy, error) {
	words := make([]string, 0, len(node.Content))
	for i, item := range node.Content {
		if item.Kind == yaml.AliasNode && item.Alias != nil {
			item = item.Alias
		}
		if item.Kind != yaml.ScalarNode || item.ShortTag() != "!!str" {
			return nil, &Error{Path: fmt.Sprintf("%s[%d]", path, i), Line: item.Line, Msg: "exclusion must be a string"}
		}
		if strings.TrimSpace(item.Value) == "" {
			return nil, &Error{Path: fmt.Sprintf("%s[%d]", path, i), Line: item.Line, Msg: "exclusion must not be blank"}
		}
		words = append(words, strings.ToLower(item.Value))
	}
	return &Policy{kind: KindExclusions, exclusions: words}, nil
}

func (d decoder) scalar(node *yaml.Node, path string) (*Policy, error) {
	switch node.ShortTag() {
	case "!!null":
		return Empty(), nil
	case "!!bool":
		var v bool
		if err := node.Decode(&v); err != nil {
			return nil, &Error{Path: path, Line: node.Line, Msg: err.Error()}
		}
		return Flag(v), nil
	case "!!str":
		if node.Value == "" {
			return Empty(), nil
		}
		if node.Value == defaultToken {
			return nil, &Error{Path: path, Line: node.Line, Msg: "default reference is only valid as a trigger value"}
		}
		return nil, &Error{Path: path, Line: node.Line, Msg: fmt.Sprintf("unexpected string %q, use a list for exclusions", node.Value)}
	default:
		return nil, &Error{Path: path, Line: node.Line, Msg: fmt.Sprintf("unsupported value %q", node.Value)}
	}
}

func isDefaultRef(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!str" && node.Value == defaultToken
}
