package fbl

//ForestNode is one node of a trained tree. Trees are stored in a single
//flat array; Origins marks where each tree begins. LeftIndex and RightIndex
//are tree-local. A leaf carries LeafIndex into the leaf table and -1
//children.
type ForestNode struct {
	Pred       int     //splitting predictor; -1 for a leaf
	Threshold  float64 //rows with value < Threshold go left
	LeftIndex  int     //-1 on a leaf
	RightIndex int     //-1 on a leaf
	LeafIndex  int     //-1 on an internal node
}

//IsLeaf reports whether the node terminates traversal.
func (node ForestNode) IsLeaf() bool {
	return node.LeafIndex != -1
}

//LeafStat is the per-leaf statistic table: a score (mean response for
//regression), the in-bag sample count, and per-class weight sums for
//classification.
type LeafStat struct {
	Score      float64
	Count      int
	ClassVotes []float64
}

//TrainedForest is the opaque result of a training engine: per-tree origin
//offsets into the flat node and leaf tables, plus factor-split tables for
//engines that emit categorical splits. It is owned by the model instance
//that produced it and read-only afterwards, so prediction workers share it
//without locking.
type TrainedForest struct {
	Task     Task
	NPred    int
	NClasses int

	Origins     []int
	Nodes       []ForestNode
	LeafOrigins []int
	Leaves      []LeafStat

	//Factor-split bit tables. Empty for the numeric-only front end; carried
	//so engine output round-trips intact.
	FacOrigins []int
	FacSplits  []uint32
}

//NumTrees returns the number of trees in the forest.
func (forest *TrainedForest) NumTrees() int {
	return len(forest.Origins)
}

//TreeNodes returns the node slab of one tree.
func (forest *TrainedForest) TreeNodes(treeIdx int) []ForestNode {
	begin := forest.Origins[treeIdx]
	end := len(forest.Nodes)
	if treeIdx+1 < len(forest.Origins) {
		end = forest.Origins[treeIdx+1]
	}
	return forest.Nodes[begin:end]
}

//TreeLeaves returns the leaf slab of one tree.
func (forest *TrainedForest) TreeLeaves(treeIdx int) []LeafStat {
	begin := forest.LeafOrigins[treeIdx]
	end := len(forest.Leaves)
	if treeIdx+1 < len(forest.LeafOrigins) {
		end = forest.LeafOrigins[treeIdx+1]
	}
	return forest.Leaves[begin:end]
}
