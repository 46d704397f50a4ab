package suite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/pelletier/go-toml"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"detox/pkg/models"
)

// --- TOML ---

type tomlLoader struct{}

func (tomlLoader) Load(data []byte) (*models.Mapping, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return fromTree(tree), nil
}

// orderedKeys returns the keys of t in the order they appear in the file.
func orderedKeys(t *toml.Tree) []string {
	type keyPos struct {
		Key  string
		Line int
		Col  int
	}
	keys := t.Keys()
	poses := make([]keyPos, len(keys))
	for i, k := range keys {
		p := t.GetPositionPath([]string{k})
		poses[i] = keyPos{Key: k, Line: p.Line, Col: p.Col}
	}
	sort.SliceStable(poses, func(i, j int) bool {
		if poses[i].Line != poses[j].Line {
			return poses[i].Line < poses[j].Line
		}
		return poses[i].Col < poses[j].Col
	})
	ordkeys := make([]string, len(poses))
	for i, p := range poses {
		ordkeys[i] = p.Key
	}
	return ordkeys
}

func fromTree(t *toml.Tree) *models.Mapping {
	m := models.NewMapping()
	for _, k := range orderedKeys(t) {
		m.Set(k, fromTOMLValue(t.GetPath([]string{k})))
	}
	return m
}

func fromTOMLValue(v interface{}) any {
	switch val := v.(type) {
	case *toml.Tree:
		return fromTree(val)
	case []*toml.Tree:
		out := make([]any, len(val))
		for i, t := range val {
			out[i] = fromTree(t)
		}
		return out
	case []interface{}:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = fromTOMLValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	default:
		return val
	}
}

// --- JSON ---

type jsonLoader struct{}

func (jsonLoader) Load(data []byte) (*models.Mapping, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	m, ok := v.(*models.Mapping)
	if !ok {
		return nil, fmt.Errorf("top-level value must be an object")
	}
	return m, nil
}

func decodeJSON(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := models.NewMapping()
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("object key must be a string, got %v", kt)
			}
			v, err := decodeJSON(dec)
			if err != nil {
				return nil, err
			}
			m.Set(key, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return m, nil
	case '[':
		list := []any{}
		for dec.More() {
			v, err := decodeJSON(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

// --- YAML ---

type yamlLoader struct{}

func (yamlLoader) Load(data []byte) (*models.Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return models.NewMapping(), nil
	}
	v, err := fromYAMLNode(&doc)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return models.NewMapping(), nil
	}
	m, ok := v.(*models.Mapping)
	if !ok {
		return nil, fmt.Errorf("top-level value must be a mapping")
	}
	return m, nil
}

func fromYAMLNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromYAMLNode(n.Content[0])
	case yaml.MappingNode:
		return fromYAMLMapping(n)
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromYAMLNode(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.AliasNode:
		return fromYAMLNode(n.Alias)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
	}
}

// fromYAMLMapping builds a mapping, resolving `<<` merge keys. Keys declared
// in the mapping itself win over merged ones, and earlier merge sources win
// over later ones.
func fromYAMLMapping(n *yaml.Node) (*models.Mapping, error) {
	explicit := make(map[string]bool)
	for i := 0; i+1 < len(n.Content); i += 2 {
		if k := n.Content[i]; k.ShortTag() != mergeTag {
			explicit[k.Value] = true
		}
	}

	m := models.NewMapping()
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		if keyNode.ShortTag() == mergeTag {
			if err := mergeYAML(m, valNode, explicit); err != nil {
				return nil, err
			}
			continue
		}
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return nil, fmt.Errorf("line %d: %w", keyNode.Line, err)
		}
		v, err := fromYAMLNode(valNode)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
	}
	return m, nil
}

const mergeTag = "!!merge"

// mergeYAML copies the keys of a merge source into m. The source is a mapping,
// an alias of one, or a sequence of those.
func mergeYAML(m *models.Mapping, src *yaml.Node, explicit map[string]bool) error {
	if src.Kind == yaml.SequenceNode {
		for _, c := range src.Content {
			if err := mergeYAML(m, c, explicit); err != nil {
				return err
			}
		}
		return nil
	}
	v, err := fromYAMLNode(src)
	if err != nil {
		return err
	}
	from, ok := v.(*models.Mapping)
	if !ok {
		return fmt.Errorf("line %d: merge value must be a mapping", src.Line)
	}
	for _, k := range from.Keys {
		if explicit[k] {
			continue
		}
		if _, seen := m.Get(k); seen {
			continue
		}
		val, _ := from.Get(k)
		m.Set(k, val)
	}
	return nil
}

// --- HCL ---

type hclLoader struct{}

func (hclLoader) Load(data []byte) (*models.Mapping, error) {
	file, diags := hclsyntax.ParseConfig(data, ConfigName+".hcl", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, diags
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("unexpected hcl body type %T", file.Body)
	}
	return fromHCLBody(body)
}

// fromHCLBody flattens attributes and blocks into a mapping in source order.
// A block is keyed by its first label when it has one, by its type otherwise.
func fromHCLBody(body *hclsyntax.Body) (*models.Mapping, error) {
	type entry struct {
		key   string
		start int
		attr  *hclsyntax.Attribute
		block *hclsyntax.Block
	}
	var entries []entry
	for name, attr := range body.Attributes {
		entries = append(entries, entry{key: name, start: attr.SrcRange.Start.Byte, attr: attr})
	}
	for _, blk := range body.Blocks {
		key := blk.Type
		if len(blk.Labels) > 0 {
			key = blk.Labels[0]
		}
		entries = append(entries, entry{key: key, start: blk.TypeRange.Start.Byte, block: blk})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].start < entries[j].start })

	m := models.NewMapping()
	for _, e := range entries {
		if e.block != nil {
			sub, err := fromHCLBody(e.block.Body)
			if err != nil {
				return nil, err
			}
			m.Set(e.key, sub)
			continue
		}
		val, diags := e.attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		v, err := fromCty(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.key, err)
		}
		m.Set(e.key, v)
	}
	return m, nil
}

func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == 0 {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			e, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		m := models.NewMapping()
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			e, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			m.Set(k.AsString(), e)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
