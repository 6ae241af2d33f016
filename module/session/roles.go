package session

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

type Permission string

const (
	PermCreateSession     Permission = "createSession"
	PermDeleteSession     Permission = "deleteSession"
	PermRevealVotes       Permission = "revealVotes"
	PermResetVotes        Permission = "resetVotes"
	PermSelectTicket      Permission = "selectJiraTicket"
	PermSubmitVote        Permission = "submitVote"
	PermViewRevealedVotes Permission = "viewRevealedVotes"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: {
		PermCreateSession:     true,
		PermDeleteSession:     true,
		PermRevealVotes:       true,
		PermResetVotes:        true,
		PermSelectTicket:      true,
		PermSubmitVote:        true,
		PermViewRevealedVotes: true,
	},
	RoleParticipant: {
		PermSubmitVote:        true,
		PermViewRevealedVotes: true,
	},
}

// RoleOf 创建者是 admin，其他人都是 participant
func RoleOf(s *Session, userID string) Role {
	if s.IsOwner(userID) {
		return RoleAdmin
	}
	return RoleParticipant
}

func HasPermission(s *Session, userID string, p Permission) bool {
	return rolePermissions[RoleOf(s, userID)][p]
}
