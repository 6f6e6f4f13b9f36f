package fbl

import (
	"fmt"
	"path"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//nodeDescription renders an internal node for the tree figures.
func nodeDescription(node ForestNode) string {
	return fmt.Sprintf("f_%d < %6.5f", node.Pred, node.Threshold)
}

//leafDescription renders a leaf: score and in-bag count, plus the class
//weight vector for classification.
func leafDescription(leaf LeafStat) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("score: ", leaf.Score))
	sb.WriteString(fmt.Sprintln("# ", leaf.Count))
	if len(leaf.ClassVotes) > 0 {
		sb.WriteString("[")
		for _, votes := range leaf.ClassVotes {
			sb.WriteString(fmt.Sprintf("  %6.2f,\n", votes))
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}

func recurrentDraw(g *cgraph.Graph, nodes []ForestNode, leaves []LeafStat, nodeIdx int, parentNode *cgraph.Node) {
	currentNode, err := g.CreateNode(fmt.Sprint(nodeIdx))
	HandleError(err)

	if parentNode != nil {
		g.CreateEdge("", parentNode, currentNode)
	}

	if nodes[nodeIdx].IsLeaf() {
		currentNode.Set("label", leafDescription(leaves[nodes[nodeIdx].LeafIndex]))
		currentNode.Set("shape", "box")
	} else {
		currentNode.Set("label", nodeDescription(nodes[nodeIdx]))
		recurrentDraw(g, nodes, leaves, nodes[nodeIdx].LeftIndex, currentNode)
		recurrentDraw(g, nodes, leaves, nodes[nodeIdx].RightIndex, currentNode)
	}
}

//DrawGraph builds a graphviz graph for one tree of the forest.
func (forest *TrainedForest) DrawGraph(treeIdx int) (*graphviz.Graphviz, *cgraph.Graph) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	HandleError(err)

	recurrentDraw(graph, forest.TreeNodes(treeIdx), forest.TreeLeaves(treeIdx), 0, nil)

	return graphViz, graph
}

//RenderTrees dumps one figure per tree into picturesDirectory.
func (forest *TrainedForest) RenderTrees(dumpPrefix, figureType, picturesDirectory string) {
	graphvizType := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]

	for treeIdx := 0; treeIdx < forest.NumTrees(); treeIdx++ {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, treeIdx, figureType)
		graphViz, graph := forest.DrawGraph(treeIdx)
		HandleError(graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename)))
	}
}
