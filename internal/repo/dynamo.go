package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/surcharge"
)

// MaxDynamoBatch is the TransactWriteItems item limit.
const MaxDynamoBatch = 100

// DynamoAPI is the subset of *dynamodb.Client used by DynamoSurcharges.
type DynamoAPI interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type surchargeItem struct {
	ProductTypeID int    `dynamodbav:"product_type_id"`
	Surcharge     string `dynamodbav:"surcharge"`
	UpdatedAt     string `dynamodbav:"updated_at"`
}

// DynamoSurcharges stores surcharge rates in a DynamoDB table keyed by product_type_id.
type DynamoSurcharges struct {
	Client DynamoAPI
	Table  string
}

// NewDynamoClient loads AWS configuration for region. A non-empty endpoint targets
// DynamoDB Local with static credentials.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// UpsertRates writes up to MaxDynamoBatch rates in one transaction.
func (d DynamoSurcharges) UpsertRates(ctx context.Context, rates []surcharge.Rate) error {
	if len(rates) > MaxDynamoBatch {
		return fmt.Errorf("surcharges.upsert: batch of %d exceeds %d items: %w", len(rates), MaxDynamoBatch, common.ErrInvalidInput)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	items := make([]types.TransactWriteItem, 0, len(rates))
	for _, rate := range rates {
		av, err := attributevalue.MarshalMap(surchargeItem{
			ProductTypeID: rate.ProductTypeID,
			Surcharge:     rate.Surcharge.String(),
			UpdatedAt:     now,
		})
		if err != nil {
			return fmt.Errorf("surcharges.marshal: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(d.Table), Item: av},
		})
	}
	if _, err := d.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("surcharges.transact_write: %w", err)
	}
	return nil
}

// GetSurcharge reads one rate with a consistent read.
func (d DynamoSurcharges) GetSurcharge(ctx context.Context, productTypeID int) (decimal.Decimal, bool, error) {
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.Table),
		Key: map[string]types.AttributeValue{
			"product_type_id": &types.AttributeValueMemberN{Value: strconv.Itoa(productTypeID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("surcharges.get: %w", err)
	}
	if len(out.Item) == 0 {
		return decimal.Zero, false, nil
	}
	var item surchargeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return decimal.Zero, false, fmt.Errorf("surcharges.unmarshal: %w", err)
	}
	amount, err := decimal.NewFromString(item.Surcharge)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("surcharges.get product type %d: %w", productTypeID, err)
	}
	return amount, true, nil
}

// Ping describes the table, failing when it is missing or unreachable.
func (d DynamoSurcharges) Ping(ctx context.Context) error {
	_, err := d.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.Table)})
	return err
}
