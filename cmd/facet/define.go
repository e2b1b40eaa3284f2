package main

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/facetdb/facet/store"
	"github.com/facetdb/facet/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "bootstrap the schema in the configured database",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()
		s := openStore(false)
		defer s.Close()

		state, err := s.Health(context.Background())
		maybeFail(err, "health check after bootstrap")
		logger.WithField("schema_version", state.SchemaVersion).Info("store initialized")
	},
}

var (
	attrType        string
	attrCardinality string
	attrUnique      string
	attrDoc         string
	attrFile        string
)

// attributeFileEntry is the YAML shape accepted by `define-attribute -f`.
type attributeFileEntry struct {
	Ident       string `yaml:"ident"`
	Type        string `yaml:"type"`
	Cardinality string `yaml:"cardinality"`
	Unique      string `yaml:"unique"`
	Doc         string `yaml:"doc"`
}

func (e attributeFileEntry) toDef() (store.AttributeDef, error) {
	def := store.AttributeDef{Ident: e.Ident, Doc: e.Doc}
	var ok bool
	if def.ValueType, ok = types.ValueTypeFromName(e.Type); !ok {
		return def, fmt.Errorf("%s: %q: %w", e.Ident, e.Type, store.ErrUnknownValueType)
	}
	card := e.Cardinality
	if card == "" {
		card = "one"
	}
	if def.Cardinality, ok = types.CardinalityFromName(card); !ok {
		return def, fmt.Errorf("%s: %q: %w", e.Ident, card, store.ErrUnknownCardinality)
	}
	if def.Unique, ok = types.UniqueFromName(e.Unique); !ok {
		return def, fmt.Errorf("%s: unknown uniqueness %q", e.Ident, e.Unique)
	}
	return def, nil
}

var defineAttributeCmd = &cobra.Command{
	Use:   "define-attribute [ident]",
	Short: "declare an attribute and provision its typed storage",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()

		var entries []attributeFileEntry
		if attrFile != "" {
			data, err := ioutil.ReadFile(attrFile)
			maybeFail(err, "reading %s", attrFile)
			maybeFail(yaml.Unmarshal(data, &entries), "parsing %s", attrFile)
		}
		if len(args) == 1 {
			entries = append(entries, attributeFileEntry{
				Ident:       args[0],
				Type:        attrType,
				Cardinality: attrCardinality,
				Unique:      attrUnique,
				Doc:         attrDoc,
			})
		}
		if len(entries) == 0 {
			maybeFail(fmt.Errorf("nothing to define"), "provide an ident or --file")
		}

		s := openStore(false)
		defer s.Close()
		for _, entry := range entries {
			def, err := entry.toDef()
			maybeFail(err, "bad attribute definition")
			id, err := s.DefineAttribute(context.Background(), def)
			maybeFail(err, "defining %s", def.Ident)
			fmt.Printf("%s\t%d\n", def.Ident, int64(id))
		}
	},
}

var viewFile string
var viewDoc string
var viewRequired []string
var viewOptional []string

// viewFileEntry is the YAML shape accepted by `define-view -f`.
type viewFileEntry struct {
	Name     string   `yaml:"name"`
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`
	Doc      string   `yaml:"doc"`
}

var defineViewCmd = &cobra.Command{
	Use:   "define-view [name]",
	Short: "define a view over a set of attributes and generate its SQL views",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()

		var defs []store.ViewDef
		if viewFile != "" {
			data, err := ioutil.ReadFile(viewFile)
			maybeFail(err, "reading %s", viewFile)
			var entries []viewFileEntry
			maybeFail(yaml.Unmarshal(data, &entries), "parsing %s", viewFile)
			for _, e := range entries {
				defs = append(defs, store.ViewDef{Name: e.Name, Required: e.Required, Optional: e.Optional, Doc: e.Doc})
			}
		}
		if len(args) == 1 {
			defs = append(defs, store.ViewDef{Name: args[0], Required: viewRequired, Optional: viewOptional, Doc: viewDoc})
		}
		if len(defs) == 0 {
			maybeFail(fmt.Errorf("nothing to define"), "provide a name or --file")
		}

		s := openStore(false)
		defer s.Close()
		for _, def := range defs {
			id, err := s.DefineView(context.Background(), def)
			maybeFail(err, "defining view %s", def.Name)
			fmt.Printf("%s\t%d\n", def.Name, int64(id))
		}
	},
}

var deleteViewCmd = &cobra.Command{
	Use:   "delete-view name",
	Short: "retract a view definition and drop its generated SQL views",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()
		s := openStore(false)
		defer s.Close()
		maybeFail(s.DeleteView(context.Background(), args[0]), "deleting view %s", args[0])
	},
}

func init() {
	defineAttributeCmd.Flags().StringVarP(&attrType, "type", "t", "", "logical value type, e.g. text, int8, ref")
	defineAttributeCmd.Flags().StringVarP(&attrCardinality, "cardinality", "c", "one", "one or many")
	defineAttributeCmd.Flags().StringVarP(&attrUnique, "unique", "u", "", "identity or value")
	defineAttributeCmd.Flags().StringVarP(&attrDoc, "doc", "d", "", "docstring")
	defineAttributeCmd.Flags().StringVarP(&attrFile, "file", "f", "", "YAML file with a list of attribute definitions")

	defineViewCmd.Flags().StringSliceVarP(&viewRequired, "required", "r", nil, "required attribute idents")
	defineViewCmd.Flags().StringSliceVarP(&viewOptional, "optional", "o", nil, "optional attribute idents")
	defineViewCmd.Flags().StringVarP(&viewDoc, "doc", "d", "", "docstring")
	defineViewCmd.Flags().StringVarP(&viewFile, "file", "f", "", "YAML file with a list of view definitions")
}
