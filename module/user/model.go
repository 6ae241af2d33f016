package user

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User 账号主档；用户名即在线登记里的身份
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	CreateTime   time.Time          `bson:"create_time" json:"createTime"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"lastLogin,omitempty"`
}

func (u *User) IDHex() string { return u.ID.Hex() }

func (u *User) GetTableName() string { return "users" }

type publicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (u *User) public() publicUser { return publicUser{ID: u.IDHex(), Username: u.Username} }
