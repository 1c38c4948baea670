// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// renderTable writes rows under header as an aligned table.
func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}
