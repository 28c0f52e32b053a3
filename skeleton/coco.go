package skeleton

// COCOKeypoints are the 17 person keypoints of the COCO dataset.
var COCOKeypoints = []string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

// cocoPersonEdges is the 19-connection COCO person skeleton, 1-based as in
// the dataset annotation files.
var cocoPersonEdges = [][2]int{
	{16, 14}, {14, 12}, {17, 15}, {15, 13}, {12, 13}, {6, 12}, {7, 13},
	{6, 7}, {6, 8}, {7, 9}, {8, 10}, {9, 11}, {2, 3}, {1, 2}, {1, 3},
	{2, 4}, {3, 5}, {4, 6}, {5, 7},
}

// COCOPerson returns the COCO person skeleton.
func COCOPerson() *Skeleton {
	edges := make([]Edge, len(cocoPersonEdges))
	for i, e := range cocoPersonEdges {
		edges[i] = Edge{From: JointType(e[0] - 1), To: JointType(e[1] - 1)}
	}
	keypoints := make([]string, len(COCOKeypoints))
	copy(keypoints, COCOKeypoints)
	return MustNew(keypoints, edges)
}
