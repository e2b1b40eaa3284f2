package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facetdb/facet/types"
	"github.com/facetdb/facet/util"
)

var asOfTx int64

var queryCmd = &cobra.Command{
	Use:   "query sql",
	Short: "run a SQL query against the store, optionally at a past transaction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		defer exitHandler()
		s := openStore(true)
		defer s.Close()

		var asOf *types.TxID
		if cmd.Flags().Changed("as-of") {
			tx := types.TxID(asOfTx)
			asOf = &tx
		}

		rows, err := s.QueryAsOf(context.Background(), asOf, args[0])
		maybeFail(err, "query failed")
		defer rows.Close()

		w := csv.NewWriter(os.Stdout)
		defer w.Flush()

		var header []string
		for _, fd := range rows.FieldDescriptions() {
			header = append(header, string(fd.Name))
		}
		maybeFail(w.Write(header), "writing header")

		for rows.Next() {
			values, err := rows.Values()
			maybeFail(err, "reading row")
			record := make([]string, len(values))
			for i, v := range values {
				if v == nil {
					continue
				}
				record[i] = util.PrintableUTF8OrEmpty(fmt.Sprintf("%v", v))
			}
			maybeFail(w.Write(record), "writing row")
		}
		maybeFail(rows.Err(), "reading rows")
	},
}

func init() {
	queryCmd.Flags().Int64Var(&asOfTx, "as-of", 0, "evaluate against the state as of this transaction id")
}
