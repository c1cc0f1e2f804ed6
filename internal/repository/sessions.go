package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
)

const (
	attrIdentity  = "identity"
	attrSessionID = "session_id"
	attrChatName  = "chat_name"
	attrMessages  = "messages"
)

// dynamodbAPI is the minimal DynamoDB interface required by SessionStore.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// SessionStore wraps a DynamoDB table holding one record per conversation,
// keyed by (identity, session_id).
type SessionStore struct {
	api       dynamodbAPI
	tableName string
}

// New creates a SessionStore over the given table.
func New(api dynamodbAPI, tableName string) (*SessionStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &SessionStore{api: api, tableName: tableName}, nil
}

// Put writes or replaces the full record for a conversation. The message
// list is always the caller's complete in-memory copy; there is no
// remote-side append.
func (s *SessionStore) Put(ctx context.Context, rec domain.SessionRecord) error {
	if rec.Identity == "" || rec.SessionID == "" {
		return errors.New("repository: Put: identity and session_id are required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      recordItem(rec),
	})
	if err != nil {
		return fmt.Errorf("repository: Put %s/%s: %w", rec.Identity, rec.SessionID, err)
	}
	return nil
}

// Get fetches a single record, returning ok=false when it does not exist.
func (s *SessionStore) Get(ctx context.Context, identity, sessionID string) (domain.SessionRecord, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       recordKey(identity, sessionID),
	})
	if err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("repository: Get %s/%s: %w", identity, sessionID, err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionRecord{}, false, nil
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("repository: Get unmarshal: %w", err)
	}
	return rec, true, nil
}

// QueryByIdentity returns every conversation record for an identity,
// ascending by sort key. That ordering is the tie-break used to pick the
// current conversation after a load.
func (s *SessionStore) QueryByIdentity(ctx context.Context, identity string) ([]domain.SessionRecord, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#id = :identity"),
		ExpressionAttributeNames: map[string]string{
			"#id": attrIdentity,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":identity": &types.AttributeValueMemberS{Value: identity},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: QueryByIdentity %s: %w", identity, err)
	}

	recs := make([]domain.SessionRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: QueryByIdentity unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Delete removes a single record. Deleting a record that does not exist is
// not an error.
func (s *SessionStore) Delete(ctx context.Context, identity, sessionID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       recordKey(identity, sessionID),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete %s/%s: %w", identity, sessionID, err)
	}
	return nil
}

// DeleteByChatName removes every record for identity whose chat_name matches.
// Returns the number of records removed.
func (s *SessionStore) DeleteByChatName(ctx context.Context, identity, chatName string) (int, error) {
	recs, err := s.QueryByIdentity(ctx, identity)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range recs {
		if rec.ChatName != chatName {
			continue
		}
		if err := s.Delete(ctx, identity, rec.SessionID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// DeleteAllForIdentity removes every record for an identity.
func (s *SessionStore) DeleteAllForIdentity(ctx context.Context, identity string) (int, error) {
	recs, err := s.QueryByIdentity(ctx, identity)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range recs {
		if err := s.Delete(ctx, identity, rec.SessionID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func recordKey(identity, sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrIdentity:  &types.AttributeValueMemberS{Value: identity},
		attrSessionID: &types.AttributeValueMemberS{Value: sessionID},
	}
}

func recordItem(rec domain.SessionRecord) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, 0, len(rec.Messages))
	for _, qa := range rec.Messages {
		msgs = append(msgs, &types.AttributeValueMemberM{
			Value: map[string]types.AttributeValue{
				"question": &types.AttributeValueMemberS{Value: qa.Question},
				"answer":   &types.AttributeValueMemberS{Value: qa.Answer},
			},
		})
	}
	return map[string]types.AttributeValue{
		attrIdentity:  &types.AttributeValueMemberS{Value: rec.Identity},
		attrSessionID: &types.AttributeValueMemberS{Value: rec.SessionID},
		attrChatName:  &types.AttributeValueMemberS{Value: rec.ChatName},
		attrMessages:  &types.AttributeValueMemberL{Value: msgs},
	}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.SessionRecord, error) {
	identity, err := strAttr(item, attrIdentity)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	sessionID, err := strAttr(item, attrSessionID)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	chatName, _ := strAttr(item, attrChatName) // allow empty

	var messages []domain.QA
	if raw, ok := item[attrMessages]; ok {
		list, ok := raw.(*types.AttributeValueMemberL)
		if !ok {
			return domain.SessionRecord{}, fmt.Errorf("repository: attribute %q is not a list", attrMessages)
		}
		messages = make([]domain.QA, 0, len(list.Value))
		for _, el := range list.Value {
			m, ok := el.(*types.AttributeValueMemberM)
			if !ok {
				return domain.SessionRecord{}, fmt.Errorf("repository: message element is not a map")
			}
			question, err := strAttr(m.Value, "question")
			if err != nil {
				return domain.SessionRecord{}, err
			}
			answer, _ := strAttr(m.Value, "answer") // pending entries have none
			messages = append(messages, domain.QA{Question: question, Answer: answer})
		}
	}

	return domain.SessionRecord{
		Identity:  identity,
		SessionID: sessionID,
		ChatName:  chatName,
		Messages:  messages,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
