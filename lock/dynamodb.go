package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DefaultLeaseDuration is how long a DynamoDB lock stays valid without release.
const DefaultLeaseDuration = time.Minute

// DDBClient is the subset of the DynamoDB API used by DynamoDBSynchronizer.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBSynchronizer serializes writers on many hosts through lease items
// in a DynamoDB table.
//
// Table schema:
//   - Partition key: lock_name (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name tensordb-locks \
//	  --attribute-definitions AttributeName=lock_name,AttributeType=S \
//	  --key-schema AttributeName=lock_name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//
// A lease left behind by a crashed owner expires after the lease duration.
type DynamoDBSynchronizer struct {
	client DDBClient
	table  string
	owner  string
	lease  time.Duration
	opts   Options
	now    func() time.Time
}

// DynamoDBOption configures a DynamoDBSynchronizer.
type DynamoDBOption func(*DynamoDBSynchronizer)

// WithLeaseDuration sets how long an unreleased lease blocks other owners.
func WithLeaseDuration(d time.Duration) DynamoDBOption {
	return func(s *DynamoDBSynchronizer) {
		s.lease = d
	}
}

// WithOwner sets the owner id written into leases. The default is a random UUID.
func WithOwner(owner string) DynamoDBOption {
	return func(s *DynamoDBSynchronizer) {
		s.owner = owner
	}
}

// WithWaitOptions applies the shared wait options.
func WithWaitOptions(optFns ...Option) DynamoDBOption {
	return func(s *DynamoDBSynchronizer) {
		for _, fn := range optFns {
			fn(&s.opts)
		}
	}
}

// NewDynamoDBSynchronizer creates a DynamoDBSynchronizer over table.
func NewDynamoDBSynchronizer(client DDBClient, table string, optFns ...DynamoDBOption) *DynamoDBSynchronizer {
	s := &DynamoDBSynchronizer{
		client: client,
		table:  table,
		owner:  uuid.NewString(),
		lease:  DefaultLeaseDuration,
		opts:   newOptions(nil),
		now:    time.Now,
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// Owner returns the owner id written into leases.
func (s *DynamoDBSynchronizer) Owner() string { return s.owner }

// Lock polls until a lease for name is written.
func (s *DynamoDBSynchronizer) Lock(ctx context.Context, name string) (Unlock, error) {
	err := poll(ctx, s.opts, name, func() (bool, error) {
		return s.tryAcquire(ctx, name)
	})
	if err != nil {
		return nil, err
	}

	var (
		once sync.Once
		uerr error
	)

	return func() error {
		once.Do(func() {
			uerr = s.release(context.WithoutCancel(ctx), name)
		})

		return uerr
	}, nil
}

func (s *DynamoDBSynchronizer) tryAcquire(ctx context.Context, name string) (bool, error) {
	now := s.now()

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"lock_name":  &types.AttributeValueMemberS{Value: name},
			"owner":      &types.AttributeValueMemberS{Value: s.owner},
			"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.lease).UnixMilli(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lock_name) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}

		return false, fmt.Errorf("lock: acquire %s: %w", name, err)
	}

	return true, nil
}

func (s *DynamoDBSynchronizer) release(ctx context.Context, name string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"lock_name": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: s.owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			// The lease expired and was taken over.
			return nil
		}

		return fmt.Errorf("lock: release %s: %w", name, err)
	}

	return nil
}
