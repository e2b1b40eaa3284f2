package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var attributesCmd = &cobra.Command{
	Use:   "attributes",
	Short: "list every declared attribute, system ones included",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()
		s := openStore(true)
		defer s.Close()

		attrs, err := s.Attributes(context.Background())
		maybeFail(err, "listing attributes")
		for _, attr := range attrs {
			unique := attr.Unique.String()
			if unique == "" {
				unique = "-"
			}
			fmt.Printf("%d\t%s\t%s\t%s\t%s\t%s\n",
				int64(attr.ID), attr.Ident, attr.ValueType, attr.Cardinality, unique, attr.Doc)
		}
	},
}

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "list every view definition",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()
		s := openStore(true)
		defer s.Close()

		views, err := s.Views(context.Background())
		maybeFail(err, "listing views")
		for _, v := range views {
			fmt.Printf("%d\t%s\trequired=%s\toptional=%s\t%s\n",
				int64(v.ID), v.Name,
				strings.Join(v.Required, ","), strings.Join(v.Optional, ","), v.Doc)
		}
	},
}
