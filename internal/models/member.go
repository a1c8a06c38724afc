package models

import "time"

// Member is a chat user seen in a group. The bot keeps this list current from
// join, leave and message updates.
type Member struct {
	GroupID   int64     `bson:"groupId"`
	UserID    int64     `bson:"userId"`
	FirstName string    `bson:"firstName"`
	LastName  string    `bson:"lastName"`
	Nick      string    `bson:"nick"`
	IsBot     bool      `bson:"isBot"`
	Archived  bool      `bson:"archived"`
	JoinedAt  time.Time `bson:"joinedAt"`
}
