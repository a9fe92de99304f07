package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	apperrors "brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

// ErrLockHeld is returned by AcquireLock when another owner holds the lock
var ErrLockHeld = errors.New("lock already held")

// DistributedLock provides distributed locking using DynamoDB conditional writes
type DistributedLock struct {
	client    DynamoAPI
	tableName string
	clock     utils.Clock
	logger    *zap.Logger
}

// NewDistributedLock creates a new distributed lock instance
func NewDistributedLock(client DynamoAPI, tableName string, clock utils.Clock, logger *zap.Logger) *DistributedLock {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		clock:     clock,
		logger:    logger,
	}
}

// AcquireLock attempts to acquire the lock once. An expired lock left behind
// by a crashed owner is taken over.
func (dl *DistributedLock) AcquireLock(ctx context.Context, resourceName, ownerID string, lockDuration time.Duration) (*Lock, error) {
	now := dl.clock()
	lockID := fmt.Sprintf("%s_%d", ownerID, now.UnixNano())
	expiresAt := now.Add(lockDuration)

	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: lockPK(resourceName)},
		"SK":         &types.AttributeValueMemberS{Value: lockSK},
		"LockID":     &types.AttributeValueMemberS{Value: lockID},
		"Owner":      &types.AttributeValueMemberS{Value: ownerID},
		"AcquiredAt": &types.AttributeValueMemberS{Value: formatTime(now)},
		"ExpiresAt":  &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixNano(), 10)},
		// DynamoDB TTL wants epoch seconds
		"TTL": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix()+1, 10)},
	}

	_, err := dl.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dl.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
		},
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			dl.logger.Debug("Failed to acquire lock - already held",
				zap.String("resource", resourceName),
				zap.String("owner", ownerID),
			)
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, resourceName)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	dl.logger.Debug("Lock acquired successfully",
		zap.String("resource", resourceName),
		zap.String("lockID", lockID),
		zap.String("owner", ownerID),
		zap.Duration("duration", lockDuration),
	)

	return &Lock{
		distributedLock: dl,
		resourceName:    resourceName,
		lockID:          lockID,
		ownerID:         ownerID,
		expiresAt:       expiresAt,
	}, nil
}

// TryAcquireLock retries AcquireLock with backoff until timeout elapses
func (dl *DistributedLock) TryAcquireLock(ctx context.Context, resourceName, ownerID string, lockDuration, timeout time.Duration) (*Lock, error) {
	deadline := dl.clock().Add(timeout)
	retryInterval := 25 * time.Millisecond

	for {
		lock, err := dl.AcquireLock(ctx, resourceName, ownerID, lockDuration)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if !dl.clock().Before(deadline) {
			return nil, apperrors.NewTimeoutError("acquire lock " + resourceName)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
			if retryInterval < time.Second {
				retryInterval = time.Duration(float64(retryInterval) * 1.5)
			}
		}
	}
}

// ReleaseLock releases the lock if it is still held by lockID
func (dl *DistributedLock) ReleaseLock(ctx context.Context, resourceName, lockID, ownerID string) error {
	_, err := dl.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(dl.tableName),
		Key:                 keyOf(lockPK(resourceName), lockSK),
		ConditionExpression: aws.String("LockID = :lockId AND #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": &types.AttributeValueMemberS{Value: lockID},
			":owner":  &types.AttributeValueMemberS{Value: ownerID},
		},
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			dl.logger.Warn("Lock already released or owned by someone else",
				zap.String("resource", resourceName),
				zap.String("lockID", lockID),
				zap.String("owner", ownerID),
			)
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}

	dl.logger.Debug("Lock released successfully",
		zap.String("resource", resourceName),
		zap.String("lockID", lockID),
	)
	return nil
}

// Lock represents an acquired distributed lock
type Lock struct {
	distributedLock *DistributedLock
	resourceName    string
	lockID          string
	ownerID         string
	expiresAt       time.Time
}

// Release releases the lock
func (l *Lock) Release(ctx context.Context) error {
	return l.distributedLock.ReleaseLock(ctx, l.resourceName, l.lockID, l.ownerID)
}

// IsExpired checks if the lock has expired
func (l *Lock) IsExpired() bool {
	return !l.distributedLock.clock().Before(l.expiresAt)
}
