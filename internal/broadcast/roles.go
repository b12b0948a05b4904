package broadcast

// Role is the closed set of creator roles the platform recognizes.
// Parsing is deliberately total: unknown labels map to community member so
// a mistyped role can never inflate trust.
type Role int

const (
	RoleCommunityMember Role = iota
	RoleCommunityLeader
	RoleUtilityOperator
	RoleHealthOfficer
	RoleGovernmentOfficial
	RoleAdministrator
)

// ParseRole maps a stored role label onto the closed Role set.
func ParseRole(label string) Role {
	switch label {
	case "administrator", "admin":
		return RoleAdministrator
	case "government-official":
		return RoleGovernmentOfficial
	case "health-officer":
		return RoleHealthOfficer
	case "utility-operator":
		return RoleUtilityOperator
	case "community-leader":
		return RoleCommunityLeader
	default:
		return RoleCommunityMember
	}
}

// Label returns the human-readable form used in attribution text.
func (r Role) Label() string {
	switch r {
	case RoleAdministrator:
		return "Administrator"
	case RoleGovernmentOfficial:
		return "Government Official"
	case RoleHealthOfficer:
		return "Health Officer"
	case RoleUtilityOperator:
		return "Utility Operator"
	case RoleCommunityLeader:
		return "Community Leader"
	default:
		return "Community Member"
	}
}

// TrustLevel is the two-tier badge shown for non-sponsored,
// authority-backed content.
type TrustLevel int

const (
	TrustNone TrustLevel = iota
	TrustLimited
	TrustInstitutional
)

// Trust returns the badge tier for the role: institutional for
// administrative/government roles, limited for scoped community roles,
// none for plain members.
func (r Role) Trust() TrustLevel {
	switch r {
	case RoleAdministrator, RoleGovernmentOfficial, RoleHealthOfficer:
		return TrustInstitutional
	case RoleUtilityOperator, RoleCommunityLeader:
		return TrustLimited
	default:
		return TrustNone
	}
}
