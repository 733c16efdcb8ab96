package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/skobkin/intelgputop/internal/gpu"
)

// listDevices prints one row per discovered card with the filter that
// selects it.
func listDevices(w io.Writer, infos []gpu.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No GPUs detected")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "CARD\tRENDER\tPCI\tID\tDRIVER\tNAME\tFILTER")
	for _, info := range infos {
		name := info.Name
		if info.Discrete {
			name += " (discrete)"
		}
		if info.PhysFn != "" {
			name += " (VF of " + info.PhysFn + ")"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			info.CardNode, dashIfEmpty(info.RenderNode), dashIfEmpty(info.PCI),
			dashIfEmpty(info.PCIID), dashIfEmpty(info.Driver), name, info.FilterString())
	}
	return writer.Flush()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
