package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"loanflash-agent/internal/domain"
)

const (
	pkPrefixWorkflow = "WF#"
	skMeta           = "META#"
	ttlDuration      = 90 * 24 * time.Hour // 90-day TTL
	maxUpdateRetries = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client wraps a DynamoDB table for workflow state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: func() time.Time { return time.Now().UTC() }}, nil
}

// workflowPK returns the DynamoDB partition key for a workflow.
func workflowPK(id string) string {
	return pkPrefixWorkflow + id
}

// ttlValue returns a Unix timestamp 90 days after ts.
func ttlValue(ts time.Time) int64 {
	return ts.Add(ttlDuration).Unix()
}

// SaveWorkflow writes a new workflow; an existing id is rejected.
func (c *Client) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	if strings.TrimSpace(wf.ID) == "" {
		return errors.New("repository: SaveWorkflow: workflow id is required")
	}
	item, err := workflowItem(wf)
	if err != nil {
		return fmt.Errorf("repository: SaveWorkflow: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveWorkflow: %w", err)
	}
	return nil
}

// GetWorkflow reads a workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: workflowPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: GetWorkflow get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Workflow{}, ErrNotFound
	}
	wf, err := itemToWorkflow(out.Item)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: GetWorkflow decode: %w", err)
	}
	return wf, nil
}

// UpdateStep sets a step's completion flag. The write is conditioned on the
// updatedAt value read, and retried when another writer got there first.
func (c *Client) UpdateStep(ctx context.Context, workflowID, stepID string, completed bool) (domain.Workflow, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		wf, err := c.GetWorkflow(ctx, workflowID)
		if err != nil {
			return domain.Workflow{}, err
		}
		prev := wf.UpdatedAt.UTC().Format(time.RFC3339Nano)
		if err := setStep(&wf, stepID, completed); err != nil {
			return domain.Workflow{}, err
		}
		wf.UpdatedAt = c.now()

		item, err := workflowItem(wf)
		if err != nil {
			return domain.Workflow{}, fmt.Errorf("repository: UpdateStep: %w", err)
		}
		_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                item,
			ConditionExpression: aws.String("updatedAt = :prev"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prev": &types.AttributeValueMemberS{Value: prev},
			},
		})
		if err == nil {
			return wf, nil
		}
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return domain.Workflow{}, fmt.Errorf("repository: UpdateStep: %w", err)
		}
	}
	return domain.Workflow{}, fmt.Errorf("repository: UpdateStep: %w", ErrConflict)
}

// Ping checks that the table exists and is reachable.
func (c *Client) Ping(ctx context.Context) error {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	if err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	if out == nil || out.Table == nil {
		return errors.New("repository: Ping: table description missing")
	}
	if out.Table.TableStatus != types.TableStatusActive && out.Table.TableStatus != types.TableStatusUpdating {
		return fmt.Errorf("repository: Ping: table status %s", out.Table.TableStatus)
	}
	return nil
}

func workflowItem(wf domain.Workflow) (map[string]types.AttributeValue, error) {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}
	inputs, err := json.Marshal(wf.UserInputs)
	if err != nil {
		return nil, fmt.Errorf("encode user inputs: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: workflowPK(wf.ID)},
		"SK":         &types.AttributeValueMemberS{Value: skMeta},
		"workflowId": &types.AttributeValueMemberS{Value: wf.ID},
		"title":      &types.AttributeValueMemberS{Value: wf.Title},
		"scenario":   &types.AttributeValueMemberS{Value: wf.Scenario},
		"steps":      &types.AttributeValueMemberS{Value: string(steps)},
		"userInputs": &types.AttributeValueMemberS{Value: string(inputs)},
		"createdAt":  &types.AttributeValueMemberS{Value: wf.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updatedAt":  &types.AttributeValueMemberS{Value: wf.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(wf.UpdatedAt), 10)},
	}, nil
}

// itemToWorkflow converts a DynamoDB attribute map to a Workflow.
func itemToWorkflow(item map[string]types.AttributeValue) (domain.Workflow, error) {
	id, err := strAttr(item, "workflowId")
	if err != nil {
		return domain.Workflow{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	scenario, err := strAttr(item, "scenario")
	if err != nil {
		return domain.Workflow{}, err
	}
	rawSteps, err := strAttr(item, "steps")
	if err != nil {
		return domain.Workflow{}, err
	}
	var steps []domain.WorkflowStep
	if err := json.Unmarshal([]byte(rawSteps), &steps); err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: decode steps: %w", err)
	}
	var inputs map[string]string
	if rawInputs, err := strAttr(item, "userInputs"); err == nil && rawInputs != "" {
		if err := json.Unmarshal([]byte(rawInputs), &inputs); err != nil {
			return domain.Workflow{}, fmt.Errorf("repository: decode user inputs: %w", err)
		}
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Workflow{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Workflow{}, err
	}

	return domain.Workflow{
		ID:         id,
		Title:      title,
		Scenario:   scenario,
		Steps:      steps,
		UserInputs: inputs,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
