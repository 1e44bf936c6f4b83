package framegraph

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// WriteDOT writes the live graph in Graphviz DOT format. Nodes are boxes,
// green when they contributed to the last built frame and red otherwise;
// pins are diamonds labelled with their type.
func (fg *FrameGraph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("digraph framegraph {\n")

	vertices := fg.graph.Vertices()
	for _, v := range vertices {
		lv := fg.graph.Vertex(v)
		switch lv.kind {
		case vertexNode:
			color := "red"
			if lv.node.enabled {
				color = "green"
			}
			fmt.Fprintf(bw, "  v%d [label=\"%s\" shape=\"rect\" color=\"%s\"];\n",
				v.Index(), dotEscaper.Replace(lv.node.typ.name), color)
		case vertexPin:
			label := lv.pin.decl.typ.Name
			if lv.pin.name != "" {
				label = lv.pin.name + ": " + label
			}
			fmt.Fprintf(bw, "  v%d [label=\"%s\" shape=\"diamond\"];\n",
				v.Index(), dotEscaper.Replace(label))
		}
	}
	for _, v := range vertices {
		for _, to := range fg.graph.OutEdges(v) {
			fmt.Fprintf(bw, "  v%d -> v%d;\n", v.Index(), to.Index())
		}
	}

	bw.WriteString("}\n")
	return errors.Wrap(bw.Flush(), "framegraph: write dot")
}
