// Package hclutil holds small helpers shared by the HCL configuration
// readers.
package hclutil

import (
	"github.com/hashicorp/hcl/v2"
)

// UniqueLabeledBlocks indexes the blocks of type typ by their first label.
// A label used twice is an error pointing at both definitions. The returned
// order is the source order of first appearance.
func UniqueLabeledBlocks(blocks hcl.Blocks, typ string) (map[string]*hcl.Block, []string, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	found := make(map[string]*hcl.Block)
	var order []string

	for _, block := range blocks {
		if block.Type != typ || len(block.Labels) == 0 {
			continue
		}
		label := block.Labels[0]
		if prev, dup := found[label]; dup {
			diags = append(diags, duplicate(typ+` "`+label+`"`, block, prev))
			continue
		}
		found[label] = block
		order = append(order, label)
	}
	return found, order, diags
}

func duplicate(what string, block, prev *hcl.Block) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Duplicate " + what + " block",
		Detail:   "Only one " + what + " block is allowed; the first one is defined at " + prev.DefRange.String() + ".",
		Subject:  block.DefRange.Ptr(),
	}
}
