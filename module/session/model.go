package session

import (
	"time"

	"PPoker/service/presence"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Member session 里的一个用户（冗余用户名，列表页不用再查用户表）
type Member struct {
	UserID   string `bson:"user_id" json:"id"`
	Username string `bson:"username" json:"username"`
}

// Ticket 当前估算的工单
type Ticket struct {
	Key         string   `bson:"key,omitempty" json:"key,omitempty"`
	Title       string   `bson:"title,omitempty" json:"title,omitempty"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	StoryPoints *float64 `bson:"story_points,omitempty" json:"storyPoints,omitempty"`
}

type Session struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name          string             `bson:"name" json:"name"`
	CreatedBy     Member             `bson:"created_by" json:"createdBy"`
	Participants  []Member           `bson:"participants" json:"participants"`
	IsPublic      bool               `bson:"is_public" json:"isPublic"`
	CurrentTicket *Ticket            `bson:"current_ticket,omitempty" json:"currentTicket,omitempty"`
	VotesRevealed bool               `bson:"votes_revealed" json:"votesRevealed"`
	CurrentRound  int                `bson:"current_round" json:"currentRound"`
	Status        string             `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updatedAt"`
}

func (s *Session) IDHex() string { return s.ID.Hex() }

func (s *Session) GetTableName() string { return "sessions" }

// Round 老数据没有 current_round 时按第 1 轮
func (s *Session) Round() int {
	if s.CurrentRound <= 0 {
		return 1
	}
	return s.CurrentRound
}

func (s *Session) IsOwner(userID string) bool { return s.CreatedBy.UserID == userID }

func (s *Session) IsParticipant(userID string) bool {
	for _, m := range s.Participants {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Session) CanAccess(userID string) bool {
	return s.IsPublic || s.IsOwner(userID) || s.IsParticipant(userID)
}

// Info 在线状态协议需要的视图
func (s *Session) Info() *presence.SessionInfo {
	ids := make([]string, 0, len(s.Participants))
	for _, m := range s.Participants {
		ids = append(ids, m.UserID)
	}
	return &presence.SessionInfo{
		ID:           s.IDHex(),
		OwnerID:      s.CreatedBy.UserID,
		Participants: ids,
		IsPublic:     s.IsPublic,
	}
}
