package models

import "time"

// User is the slice of the user record the real-time core reads or mirrors.
type User struct {
	ID             int64     `db:"id" json:"id" msgpack:"id"`
	Username       string    `db:"username" json:"username" msgpack:"username"`
	Nickname       string    `db:"nickname" json:"nickname,omitempty" msgpack:"nickname"`
	Avatar         string    `db:"avatar" json:"avatar,omitempty" msgpack:"avatar"`
	IsOnline       bool      `db:"is_online" json:"isOnline" msgpack:"is_online"`
	ShowReadStatus bool      `db:"show_read_status" json:"showReadStatus" msgpack:"show_read_status"`
	LastLoginTime  time.Time `db:"last_login_time" json:"lastLoginTime" msgpack:"last_login_time"`
}

// UserPresence is one registry entry.
type UserPresence struct {
	UserID          int64     `json:"userId"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}
