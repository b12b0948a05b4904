package broadcast

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
)

// Variant is the closed set of channel template variants. Adding a
// variant means adding a constant here, a case in selectVariant, and an
// entry in templates.yaml; the init check catches a missing entry.
type Variant string

const (
	VariantOfficial  Variant = "official"
	VariantSponsored Variant = "sponsored"
	VariantVerified  Variant = "verified"
	VariantCommunity Variant = "community"
)

//go:embed templates.yaml
var templatesYAML []byte

type templateDef struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

var templateTable map[Variant]templateDef

func init() {
	if err := yaml.Unmarshal(templatesYAML, &templateTable); err != nil {
		panic(fmt.Sprintf("broadcast: invalid embedded templates.yaml: %v", err))
	}
	for _, v := range []Variant{VariantOfficial, VariantSponsored, VariantVerified, VariantCommunity} {
		def, ok := templateTable[v]
		if !ok || def.Name == "" || def.Text == "" {
			panic(fmt.Sprintf("broadcast: templates.yaml is missing variant %q", v))
		}
	}
}

// Template renders the variant's channel template message for a moment's
// region and category, including the filled-in boilerplate body.
func (v Variant) Template(region, category string) whatsapp.TemplateMessage {
	def := templateTable[v]
	return whatsapp.TemplateMessage{
		Name: def.Name,
		Params: map[string]string{
			"region":   region,
			"category": category,
		},
		Text: renderBoilerplate(def.Text, region, category),
	}
}

func renderBoilerplate(text, region, category string) string {
	text = strings.ReplaceAll(text, "{{region}}", region)
	return strings.ReplaceAll(text, "{{category}}", category)
}
