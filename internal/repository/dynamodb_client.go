package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"storechat/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client wraps a single DynamoDB table holding conversation metadata and
// per-conversation message items. Messages live under PK=SESSION#<id> with
// sort keys MSG#<timestamp>#<uuid>, so a key-ordered query is a
// chronological query.
type Client struct {
	api       dynamodbAPI
	tableName string

	// now is swappable in tests; message timestamps are assigned here,
	// server-side, never by the caller.
	now func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a conversation.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK builds a sort key that is lexicographically chronological, with a
// uuid suffix so two messages in the same nanosecond cannot collide.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// AppendMessage inserts a message with a store-assigned id and UTC
// timestamp and returns the id. The write is conditional on key absence;
// it never silently replaces an existing item.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("repository: AppendMessage: session id is required")
	}

	msg.ID = uuid.NewString()
	msg.SessionID = sessionID
	msg.Timestamp = c.now().UTC()

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg.ID, nil
}

// FetchRecent returns at most limit most-recent messages in ascending
// timestamp order. The query reads newest-first so Limit keeps the most
// recent context, then reverses in memory.
func (c *Client) FetchRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: FetchRecent query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: FetchRecent unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	// Reverse to chronological order before handing to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UpsertMeta merges the given fields into the conversation metadata item
// without touching unspecified fields. MessageCountDelta is applied as an
// atomic increment; everything else is a plain SET, so repeating the same
// update is idempotent for those fields.
func (c *Client) UpsertMeta(ctx context.Context, sessionID string, update domain.MetaUpdate) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: UpsertMeta: session id is required")
	}

	var sets, adds []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	names["#sid"] = "sessionId"
	values[":sid"] = &types.AttributeValueMemberS{Value: sessionID}
	sets = append(sets, "#sid = :sid")

	if update.LastMessage != nil {
		names["#lm"] = "lastMessage"
		values[":lm"] = &types.AttributeValueMemberS{Value: *update.LastMessage}
		sets = append(sets, "#lm = :lm")
	}
	if update.LastMessageTime != nil {
		names["#lmt"] = "lastMessageTime"
		values[":lmt"] = &types.AttributeValueMemberS{Value: update.LastMessageTime.UTC().Format(time.RFC3339Nano)}
		sets = append(sets, "#lmt = :lmt")
	}
	if update.ClientContext != nil {
		ctxAttr := map[string]types.AttributeValue{}
		for k, v := range update.ClientContext {
			ctxAttr[k] = &types.AttributeValueMemberS{Value: v}
		}
		names["#cc"] = "clientContext"
		values[":cc"] = &types.AttributeValueMemberM{Value: ctxAttr}
		sets = append(sets, "#cc = :cc")
	}
	if update.MessageCountDelta != 0 {
		names["#mc"] = "messageCount"
		values[":mc"] = &types.AttributeValueMemberN{Value: strconv.Itoa(update.MessageCountDelta)}
		adds = append(adds, "#mc :mc")
	}

	expr := "SET " + strings.Join(sets, ", ")
	if len(adds) > 0 {
		expr += " ADD " + strings.Join(adds, ", ")
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: UpsertMeta: %w", err)
	}
	return nil
}

// updatableAttrs is the whitelist of message attributes a PATCH may touch.
var updatableAttrs = map[string]struct{}{
	"content":  {},
	"duration": {},
	"fileUrl":  {},
	"fileName": {},
	"fileSize": {},
	"error":    {},
}

// UpdateMessage applies the given field updates to one message. The item
// key embeds the timestamp, so the message is located by id first.
func (c *Client) UpdateMessage(ctx context.Context, sessionID, messageID string, updates map[string]any) error {
	if len(updates) == 0 {
		return errors.New("repository: UpdateMessage: no updates given")
	}

	sk, err := c.lookupMessageSK(ctx, sessionID, messageID)
	if err != nil {
		return err
	}

	var sets []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	i := 0
	for field, val := range updates {
		if _, ok := updatableAttrs[field]; !ok {
			return fmt.Errorf("repository: UpdateMessage: attribute %q is not updatable", field)
		}
		attr, err := toAttributeValue(val)
		if err != nil {
			return fmt.Errorf("repository: UpdateMessage: attribute %q: %w", field, err)
		}
		n := fmt.Sprintf("#f%d", i)
		v := fmt.Sprintf(":v%d", i)
		names[n] = field
		values[v] = attr
		sets = append(sets, n+" = "+v)
		i++
	}

	_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateMessage: %w", err)
	}
	return nil
}

// DeleteMessage removes one message from a conversation.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	sk, err := c.lookupMessageSK(ctx, sessionID, messageID)
	if err != nil {
		return err
	}

	_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteMessage: %w", err)
	}
	return nil
}

// lookupMessageSK resolves a message id to its full sort key with a
// filtered key-range query.
func (c *Client) lookupMessageSK(ctx context.Context, sessionID, messageID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(messageID) == "" {
		return "", errors.New("repository: session id and message id are required")
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
			":id":     &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return "", fmt.Errorf("repository: lookup message %q: %w", messageID, err)
	}
	if len(out.Items) == 0 {
		return "", fmt.Errorf("repository: message %q not found", messageID)
	}
	return strAttr(out.Items[0], "SK")
}

func toAttributeValue(val any) (types.AttributeValue, error) {
	switch v := val.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: v}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: v}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}, nil
	case float64:
		// JSON numbers decode as float64.
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", val)
	}
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"type":      &types.AttributeValueMemberS{Value: string(msg.Kind)},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"sender":    &types.AttributeValueMemberS{Value: msg.Sender},
		"timestamp": &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	if msg.Duration > 0 {
		item["duration"] = &types.AttributeValueMemberN{Value: strconv.Itoa(msg.Duration)}
	}
	if msg.FileURL != "" {
		item["fileUrl"] = &types.AttributeValueMemberS{Value: msg.FileURL}
	}
	if msg.FileName != "" {
		item["fileName"] = &types.AttributeValueMemberS{Value: msg.FileName}
	}
	if msg.FileSize > 0 {
		item["fileSize"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.FileSize, 10)}
	}
	if msg.Product != nil {
		item["product"] = productAttr(*msg.Product)
	}
	if msg.Error {
		item["error"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	return item
}

func productAttr(p domain.Product) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: p.ID},
		"title":   &types.AttributeValueMemberS{Value: p.Title},
		"price":   &types.AttributeValueMemberS{Value: p.Price},
		"image":   &types.AttributeValueMemberS{Value: p.Image},
		"rating":  &types.AttributeValueMemberN{Value: strconv.FormatFloat(p.Rating, 'f', -1, 64)},
		"reviews": &types.AttributeValueMemberN{Value: strconv.Itoa(p.Reviews)},
		"url":     &types.AttributeValueMemberS{Value: p.URL},
	}}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	kind, err := strAttr(item, "type")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	tsRaw, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: parse timestamp: %w", err)
	}

	sessionID, _ := strAttr(item, "sessionId") // allow empty on legacy items

	msg := domain.Message{
		ID:        id,
		SessionID: sessionID,
		Kind:      domain.MessageKind(kind),
		Content:   content,
		Sender:    sender,
		Timestamp: ts,
	}

	if v, ok := item["duration"]; ok {
		if n, err := numAttrInt(v); err == nil {
			msg.Duration = int(n)
		}
	}
	if v, ok := item["fileUrl"].(*types.AttributeValueMemberS); ok {
		msg.FileURL = v.Value
	}
	if v, ok := item["fileName"].(*types.AttributeValueMemberS); ok {
		msg.FileName = v.Value
	}
	if v, ok := item["fileSize"]; ok {
		if n, err := numAttrInt(v); err == nil {
			msg.FileSize = n
		}
	}
	if v, ok := item["product"].(*types.AttributeValueMemberM); ok {
		p := attrToProduct(v.Value)
		msg.Product = &p
	}
	if v, ok := item["error"].(*types.AttributeValueMemberBOOL); ok {
		msg.Error = v.Value
	}
	return msg, nil
}

func attrToProduct(m map[string]types.AttributeValue) domain.Product {
	var p domain.Product
	if v, ok := m["id"].(*types.AttributeValueMemberS); ok {
		p.ID = v.Value
	}
	if v, ok := m["title"].(*types.AttributeValueMemberS); ok {
		p.Title = v.Value
	}
	if v, ok := m["price"].(*types.AttributeValueMemberS); ok {
		p.Price = v.Value
	}
	if v, ok := m["image"].(*types.AttributeValueMemberS); ok {
		p.Image = v.Value
	}
	if v, ok := m["rating"].(*types.AttributeValueMemberN); ok {
		p.Rating, _ = strconv.ParseFloat(v.Value, 64)
	}
	if v, ok := m["reviews"].(*types.AttributeValueMemberN); ok {
		p.Reviews, _ = strconv.Atoi(v.Value)
	}
	if v, ok := m["url"].(*types.AttributeValueMemberS); ok {
		p.URL = v.Value
	}
	return p
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

func numAttrInt(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("repository: attribute is not a number")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
