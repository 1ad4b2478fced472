package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-chat/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"

	counterPK            = "COUNTER#"
	counterConversations = "conversations"
	counterMessages      = "messages"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table keyed by PK/SK.
//
// Layout:
//   - COUNTER#/<name>: atomic id allocators for conversations and messages
//   - CONV#<id>/META#: conversation record, carries the per-conversation message sequence
//   - CONV#<id>/MSG#<seq>: one item per message, zero-padded seq keeps SK order chronological
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a new DynamoDB-backed Store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *DynamoStore) Close() error { return nil }

// convPK returns the DynamoDB partition key for a conversation.
func convPK(id domain.ConversationID) string {
	return "CONV#" + strconv.FormatInt(int64(id), 10)
}

// msgSK returns the sort key for the seq-th message of a conversation.
func msgSK(seq int64) string {
	return fmt.Sprintf("%s%020d", skPrefixMsg, seq)
}

func (c *DynamoStore) CreateConversation(ctx context.Context) (domain.ConversationID, error) {
	next, err := c.nextSequence(ctx, counterConversations)
	if err != nil {
		return 0, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	id := domain.ConversationID(next)

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                metaItem(id, formatTimestamp(nowUTC())),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: CreateConversation put meta: %w", err)
	}
	return id, nil
}

func (c *DynamoStore) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	conv, err := itemToConversation(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return &conv, nil
}

func (c *DynamoStore) SaveMessage(ctx context.Context, conversationID domain.ConversationID, sender domain.Sender, content string) (domain.MessageID, error) {
	if !sender.Valid() {
		return 0, fmt.Errorf("repository: SaveMessage: invalid sender %q", sender)
	}

	// Bumping the conversation's sequence doubles as the existence check.
	seqOut, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String("ADD msgSeq :one"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, fmt.Errorf("repository: SaveMessage %d: %w", conversationID, ErrConversationNotFound)
		}
		return 0, fmt.Errorf("repository: SaveMessage sequence: %w", err)
	}
	seq, err := int64Attr(seqOut.Attributes, "msgSeq")
	if err != nil {
		return 0, fmt.Errorf("repository: SaveMessage decode sequence: %w", err)
	}

	next, err := c.nextSequence(ctx, counterMessages)
	if err != nil {
		return 0, fmt.Errorf("repository: SaveMessage: %w", err)
	}

	msg := domain.Message{
		ID:             domain.MessageID(next),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      nowUTC(),
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg, seq),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: SaveMessage put: %w", err)
	}
	return msg.ID, nil
}

// GetMessages queries MSG# items for a conversation in chronological order.
func (c *DynamoStore) GetMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ConsistentRead: aws.Bool(true),
	}

	if limit > 0 {
		// Read newest first so LIMIT favors the most recent context.
		in.ScanIndexForward = aws.Bool(false)
		in.Limit = aws.Int32(int32(limit))

		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages query: %w", err)
		}
		msgs, err := itemsToMessages(out.Items)
		if err != nil {
			return nil, err
		}
		// Reverse to chronological order before returning to prompt assembly.
		reverseMessages(msgs)
		return msgs, nil
	}

	in.ScanIndexForward = aws.Bool(true)
	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages query: %w", err)
		}
		page, err := itemsToMessages(out.Items)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// nextSequence atomically increments the named counter and returns its new value.
func (c *DynamoStore) nextSequence(ctx context.Context, name string) (int64, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: counterPK},
			"SK": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression:          aws.String("ADD #v :one"),
		ExpressionAttributeNames:  map[string]string{"#v": "value"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", name, err)
	}
	v, err := int64Attr(out.Attributes, "value")
	if err != nil {
		return 0, fmt.Errorf("decode %s counter: %w", name, err)
	}
	return v, nil
}

func itemsToMessages(items []map[string]types.AttributeValue) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := int64Attr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	created, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := parseTimestamp(created)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: attribute %q: %w", "createdAt", err)
	}

	return domain.Message{
		ID:             domain.MessageID(id),
		ConversationID: domain.ConversationID(convID),
		Sender:         domain.Sender(sender),
		Content:        content,
		CreatedAt:      createdAt,
	}, nil
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := int64Attr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	created, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdAt, err := parseTimestamp(created)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: attribute %q: %w", "createdAt", err)
	}
	return domain.Conversation{ID: domain.ConversationID(id), CreatedAt: createdAt}, nil
}

func messageItem(msg domain.Message, seq int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(seq)},
		"id":             &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(msg.ID), 10)},
		"conversationId": &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(msg.ConversationID), 10)},
		"sender":         &types.AttributeValueMemberS{Value: string(msg.Sender)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTimestamp(msg.CreatedAt)},
	}
}

func metaItem(id domain.ConversationID, createdAt string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(id)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(id), 10)},
		"createdAt":      &types.AttributeValueMemberS{Value: createdAt},
		"msgSeq":         &types.AttributeValueMemberN{Value: "0"},
	}
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
