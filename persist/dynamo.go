package persist

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DefaultTable 与旧版服务共用的会话表，分区键为 KeyAttribute（字符串）
const (
	DefaultTable = "PlayerSessions"
	KeyAttribute = "sessionId"
)

// dynamoAPI DynamoDB 客户端中用到的部分，便于测试替换
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	dynamodb.ScanAPIClient
}

// DynamoStore 以 sessionId 为分区键的 DynamoDB 存储
type DynamoStore struct {
	client dynamoAPI
	table  string
}

// NewDynamoStore 使用默认凭证链创建存储
func NewDynamoStore(ctx context.Context, region, table string) (*DynamoStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

func newDynamoStore(client dynamoAPI, table string) *DynamoStore {
	if table == "" {
		table = DefaultTable
	}
	return &DynamoStore{client: client, table: table}
}

// Upsert 整条覆盖写入
func (s *DynamoStore) Upsert(ctx context.Context, rec Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.PlayerID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.PlayerID, err)
	}
	return nil
}

// TopScores 全表扫描后按分数降序取前 n 名
func (s *DynamoStore) TopScores(ctx context.Context, n int) ([]Record, error) {
	var all []Record
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{TableName: aws.String(s.table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		all = append(all, recs...)
	}
	return topN(all, n), nil
}
