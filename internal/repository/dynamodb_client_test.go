package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"support-chat/internal/domain"
)

type fakeDynamo struct {
	getOut     *dynamodb.GetItemOutput
	getErr     error
	putErr     error
	updateOuts []*dynamodb.UpdateItemOutput
	updateErr  error
	queryOuts  []*dynamodb.QueryOutput
	queryErr   error

	lastGetInput  *dynamodb.GetItemInput
	putInputs     []*dynamodb.PutItemInput
	updateInputs  []*dynamodb.UpdateItemInput
	queryInputs   []*dynamodb.QueryInput
	updateCallIdx int
	queryCallIdx  int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInputs = append(f.updateInputs, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateCallIdx >= len(f.updateOuts) {
		return nil, errors.New("no update output configured")
	}
	out := f.updateOuts[f.updateCallIdx]
	f.updateCallIdx++
	return out, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queryInputs = append(f.queryInputs, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryCallIdx >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[f.queryCallIdx]
	f.queryCallIdx++
	return out, nil
}

func counterOut(attr string, v int64) *dynamodb.UpdateItemOutput {
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		attr: &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)},
	}}
}

func makeMessageItem(id, convID int64, sender, content string) map[string]types.AttributeValue {
	return messageItem(domain.Message{
		ID:             domain.MessageID(id),
		ConversationID: domain.ConversationID(convID),
		Sender:         domain.Sender(sender),
		Content:        content,
		CreatedAt:      time.Date(2025, 1, 2, 3, 4, 5, int(id), time.UTC),
	}, id)
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	c, err := NewDynamoStore(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestNewDynamoStore_ValidatesArgs(t *testing.T) {
	_, err := NewDynamoStore(nil, "t")
	require.Error(t, err)

	_, err = NewDynamoStore(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestMsgSK_SortsChronologically(t *testing.T) {
	require.Equal(t, "MSG#00000000000000000002", msgSK(2))
	require.Less(t, msgSK(9), msgSK(10))
}

func TestDynamoCreateConversation_AllocatesFromCounter(t *testing.T) {
	db := &fakeDynamo{updateOuts: []*dynamodb.UpdateItemOutput{counterOut("value", 7)}}
	c := mustNewDynamoStore(t, db)

	id, err := c.CreateConversation(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ConversationID(7), id)

	require.Len(t, db.updateInputs, 1)
	require.Equal(t, "ADD #v :one", aws.ToString(db.updateInputs[0].UpdateExpression))
	require.Equal(t, counterConversations, db.updateInputs[0].Key["SK"].(*types.AttributeValueMemberS).Value)

	require.Len(t, db.putInputs, 1)
	item := db.putInputs[0].Item
	require.Equal(t, "CONV#7", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skMeta, item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK)", aws.ToString(db.putInputs[0].ConditionExpression))
}

func TestDynamoCreateConversation_CounterError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("throttled")}
	c := mustNewDynamoStore(t, db)

	_, err := c.CreateConversation(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateConversation")
	require.Empty(t, db.putInputs)
}

func TestDynamoGetConversation(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: metaItem(3, "2025-01-02T03:04:05.000000000Z")}}
	c := mustNewDynamoStore(t, db)

	conv, err := c.GetConversation(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Equal(t, domain.ConversationID(3), conv.ID)
	require.Equal(t, 2025, conv.CreatedAt.Year())
	require.True(t, aws.ToBool(db.lastGetInput.ConsistentRead))
}

func TestDynamoGetConversation_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewDynamoStore(t, db)

	conv, err := c.GetConversation(context.Background(), 3)
	require.NoError(t, err)
	require.Nil(t, conv)
}

func TestDynamoGetConversation_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewDynamoStore(t, db)

	_, err := c.GetConversation(context.Background(), 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetConversation")
}

func TestDynamoSaveMessage_HappyPath(t *testing.T) {
	db := &fakeDynamo{updateOuts: []*dynamodb.UpdateItemOutput{
		counterOut("msgSeq", 4),
		counterOut("value", 41),
	}}
	c := mustNewDynamoStore(t, db)

	id, err := c.SaveMessage(context.Background(), 3, domain.SenderAI, "Free shipping over $50.")
	require.NoError(t, err)
	require.Equal(t, domain.MessageID(41), id)

	require.Equal(t, "attribute_exists(PK)", aws.ToString(db.updateInputs[0].ConditionExpression))
	require.Len(t, db.putInputs, 1)
	item := db.putInputs[0].Item
	require.Equal(t, "CONV#3", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, msgSK(4), item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ai", item["sender"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Free shipping over $50.", item["content"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoSaveMessage_UnknownConversation(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}}
	c := mustNewDynamoStore(t, db)

	_, err := c.SaveMessage(context.Background(), 3, domain.SenderUser, "hi")
	require.ErrorIs(t, err, ErrConversationNotFound)
	require.Empty(t, db.putInputs)
}

func TestDynamoSaveMessage_InvalidSender(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamoStore(t, db)

	_, err := c.SaveMessage(context.Background(), 3, domain.Sender("bot"), "hi")
	require.Error(t, err)
	require.Empty(t, db.updateInputs)
}

func TestDynamoGetMessages_WindowReversesToChronological(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			makeMessageItem(3, 1, "user", "third"),
			makeMessageItem(2, 1, "ai", "second"),
			makeMessageItem(1, 1, "user", "first"),
		},
	}}}
	c := mustNewDynamoStore(t, db)

	msgs, err := c.GetMessages(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "second", msgs[1].Content)
	require.Equal(t, domain.SenderAI, msgs[1].Sender)
	require.Equal(t, "third", msgs[2].Content)

	require.Len(t, db.queryInputs, 1)
	require.False(t, aws.ToBool(db.queryInputs[0].ScanIndexForward))
	require.Equal(t, int32(3), aws.ToInt32(db.queryInputs[0].Limit))
}

func TestDynamoGetMessages_AllPaginatesAscending(t *testing.T) {
	lastKey := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "CONV#1"},
		"SK": &types.AttributeValueMemberS{Value: msgSK(2)},
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				makeMessageItem(1, 1, "user", "first"),
				makeMessageItem(2, 1, "ai", "second"),
			},
			LastEvaluatedKey: lastKey,
		},
		{
			Items: []map[string]types.AttributeValue{
				makeMessageItem(3, 1, "user", "third"),
			},
		},
	}}
	c := mustNewDynamoStore(t, db)

	msgs, err := c.GetMessages(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "third", msgs[2].Content)

	require.Len(t, db.queryInputs, 2)
	require.True(t, aws.ToBool(db.queryInputs[0].ScanIndexForward))
	require.Nil(t, db.queryInputs[0].Limit)
	require.Equal(t, lastKey, db.queryInputs[1].ExclusiveStartKey)
}

func TestDynamoGetMessages_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	c := mustNewDynamoStore(t, db)

	_, err := c.GetMessages(context.Background(), 1, 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetMessages query")
}

func TestDynamoGetMessages_MalformedItem(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{{
			"id": &types.AttributeValueMemberS{Value: "not-a-number"},
		}},
	}}}
	c := mustNewDynamoStore(t, db)

	_, err := c.GetMessages(context.Background(), 1, 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}
