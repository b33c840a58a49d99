package core

import "fmt"

// ValidateSelection checks the shape of a create request: at least one
// group, and at least one subgroup per group. Returns an
// invalid_request Error describing the first violation.
func ValidateSelection(groups []GroupSelection) *Error {
	if len(groups) == 0 {
		return NewInvalidRequestError("at least one group must be selected", nil)
	}
	for i, g := range groups {
		if g.GroupID == "" {
			return NewInvalidRequestError(
				fmt.Sprintf("group at index %d has an empty id", i),
				map[string]any{"index": i},
			)
		}
		if len(g.SubgroupIDs) == 0 {
			return NewInvalidRequestError(
				fmt.Sprintf("group %q has no subgroups selected", g.GroupID),
				map[string]any{"group_id": g.GroupID},
			)
		}
		for _, sg := range g.SubgroupIDs {
			if sg == "" {
				return NewInvalidRequestError(
					fmt.Sprintf("group %q contains an empty subgroup id", g.GroupID),
					map[string]any{"group_id": g.GroupID},
				)
			}
		}
	}
	return nil
}
