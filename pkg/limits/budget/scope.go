package budget

import "context"

// scopeRank orders scope types from narrowest to widest. Projects and users
// share a rank; neither can parent the other.
var scopeRank = map[ScopeType]int{
	ScopeUser:         1,
	ScopeProject:      1,
	ScopeTeam:         2,
	ScopeOrganization: 3,
}

// RankResolver treats any wider scope type as an ancestor. It cannot tell
// whether a particular user belongs to a particular team; deployments with a
// membership directory should supply their own ScopeResolver.
type RankResolver struct{}

// IsAncestor reports whether parent's scope type is strictly wider than child's.
func (RankResolver) IsAncestor(ctx context.Context, parent, child Scope) (bool, error) {
	return scopeRank[parent.Type] > scopeRank[child.Type], nil
}
