package vote

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Deck 可选的牌面
var Deck = []string{"1", "2", "3", "5", "8", "13", "21", "40", "∞", "?"}

const (
	CardInfinity = "∞"
	CardUnsure   = "?"
)

func ValidCard(v string) bool {
	for _, c := range Deck {
		if c == v {
			return true
		}
	}
	return false
}

// Vote 每个 (session, user, round) 只有一条
type Vote struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"sessionId"`
	UserID    string             `bson:"user_id" json:"userId"`
	Username  string             `bson:"username" json:"username"`
	Value     string             `bson:"value" json:"value"`
	Round     int                `bson:"round" json:"round"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updatedAt"`
}

func (v *Vote) GetTableName() string { return "votes" }

// Hidden 未揭晓时对外只暴露“谁投了”
type Hidden struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	HasVoted bool   `json:"hasVoted"`
}

func hide(votes []*Vote) []Hidden {
	out := make([]Hidden, 0, len(votes))
	for _, v := range votes {
		out = append(out, Hidden{UserID: v.UserID, Username: v.Username, HasVoted: true})
	}
	return out
}
