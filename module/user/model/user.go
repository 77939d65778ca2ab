package model

import (
	"time"
)

// Status
const (
	UserNormal int32 = 0
	UserBanned int32 = 1
	UserClosed int32 = 2
)

const (
	UserTableName = "user"

	UserFieldUserID            = "user_id"
	UserFieldStatus            = "status"
	UserFieldNotificationToken = "notification_token"
)

// User 用户主档，这里只放聊天需要的字段；注册/资料维护在用户服务
type User struct {
	UserID            string    `bson:"user_id" json:"id"`                                      // 24 位 hex，全局唯一
	Nickname          string    `bson:"nickname" json:"name"`                                   // 显示名
	FaceURL           string    `bson:"face_url,omitempty" json:"avatar,omitempty"`             // 头像URL
	Role              string    `bson:"role,omitempty" json:"role,omitempty"`                   // buyer/seller/driver/admin
	Status            int32     `bson:"status" json:"-"`                                        // 0=正常,1=禁用,2=注销
	NotificationToken string    `bson:"notification_token,omitempty" json:"-"`                  // 推送 token
	CreateTime        time.Time `bson:"create_time" json:"-"`
	UpdateTime        time.Time `bson:"update_time" json:"-"`
}

func (u *User) GetTableName() string {
	return UserTableName
}

func (u *User) Active() bool {
	return u.Status == UserNormal
}

// Profile 对外展示的资料快照
func (u *User) Profile() Profile {
	return Profile{ID: u.UserID, Name: u.Nickname, Avatar: u.FaceURL}
}

// Profile 消息、会话列表里带出去的用户快照
type Profile struct {
	ID     string `json:"id" bson:"id"`
	Name   string `json:"name" bson:"name"`
	Avatar string `json:"avatar,omitempty" bson:"avatar,omitempty"`
}
