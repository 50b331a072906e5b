package scheduler

import "github.com/vk/flowline/internal/workflow"

// expandMatrix computes the cross product of all axis values. A nil
// matrix yields a single instance with no values. Instances are ordered
// with the last declared axis varying fastest, so expansion is stable.
func expandMatrix(m *workflow.Matrix) []map[string]string {
	if m == nil || len(m.Axes) == 0 {
		return []map[string]string{nil}
	}

	combos := []map[string]string{{}}
	for _, axis := range m.Axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, value := range axis.Values {
				instance := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					instance[k] = v
				}
				instance[axis.Name] = value
				next = append(next, instance)
			}
		}
		combos = next
	}
	return combos
}
