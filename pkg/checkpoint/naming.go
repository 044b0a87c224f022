package checkpoint

import (
	"fmt"
	"sort"
)

// GateNames maps gate ids to the names used in checkpoint and proof keys.
var GateNames = map[int]string{
	0: "baseline",
	1: "compression",
	2: "wave_propagation",
	3: "glider_emergence",
	4: "decay",
	5: "sustained_load",
}

// GateIDs lists the known gates in order.
func GateIDs() []int {
	ids := make([]int, 0, len(GateNames))
	for id := range GateNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// GateResultKey is where the gate runner stores a verified checkpoint.
func GateResultKey(id int, name string) string {
	return fmt.Sprintf("gate_%d_%s_hardware_verified.json", id, name)
}

func gateResultPattern(id int) string {
	return fmt.Sprintf("gate_%d_*_hardware_verified.json", id)
}

/*
proofPattern globs the .proof artifacts of a gate. Unknown ids fall back to
the gate_{id} naming of externally produced proofs.
*/
func proofPattern(id int) string {
	if name, ok := GateNames[id]; ok {
		return fmt.Sprintf("*%s*hardware*execution*.proof", name)
	}
	return fmt.Sprintf("*gate_%d*_hardware_*_execution_*.proof", id)
}
