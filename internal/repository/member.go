package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/greg-py/Chapters-sub000/internal/models"
)

const members_collection = "members"

type MemberRepository struct {
	db *mongo.Database
}

func NewMemberRepository(db *mongo.Database) (*MemberRepository, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &MemberRepository{
		db: db,
	}, nil
}

func (m *MemberRepository) EnsureIndexes(ctx context.Context) error {
	collection := m.db.Collection(members_collection)
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "groupId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetName("group_user").SetUnique(true),
	})
	return err
}

// SaveMember upserts a member of a group and reactivates it if it was archived.
func (m *MemberRepository) SaveMember(ctx context.Context, member *models.Member) error {
	collection := m.db.Collection(members_collection)
	opt := options.Update().SetUpsert(true)

	filter := bson.M{"groupId": member.GroupID, "userId": member.UserID}
	update := bson.M{
		"$set": bson.M{
			"firstName": member.FirstName,
			"lastName":  member.LastName,
			"nick":      member.Nick,
			"isBot":     member.IsBot,
			"archived":  false,
		},
		"$setOnInsert": bson.M{"joinedAt": member.JoinedAt},
	}

	_, err := collection.UpdateOne(ctx, filter, update, opt)
	return err
}

func (m *MemberRepository) ArchiveMember(ctx context.Context, groupID, userID int64) error {
	collection := m.db.Collection(members_collection)
	filter := bson.M{"groupId": groupID, "userId": userID}
	update := bson.M{"$set": bson.M{"archived": true}}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("member %d of group %d: %w", userID, groupID, ErrNotFound)
	}

	return nil
}

// ListGroupMembers returns the members of a group that have not left it.
func (m *MemberRepository) ListGroupMembers(ctx context.Context, groupID int64) ([]models.Member, error) {
	collection := m.db.Collection(members_collection)
	cursor, err := collection.Find(ctx, bson.M{"groupId": groupID, "archived": false})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var members []models.Member

	for cursor.Next(ctx) {
		var member models.Member
		if err := cursor.Decode(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	return members, nil
}
