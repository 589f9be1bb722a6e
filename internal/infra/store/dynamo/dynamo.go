// Package dynamo implements the record store over a DynamoDB table with one
// attribute per property.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
	"github.com/vietddude/pollmark/internal/infra/awsutil"
)

// DefaultKeyAttribute is the partition key used when none is configured.
const DefaultKeyAttribute = "id"

// Config holds DynamoDB settings.
type Config struct {
	Table        string `yaml:"table"`
	KeyAttribute string `yaml:"key_attribute"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
}

// API is the subset of the DynamoDB client the store uses.
type API interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Store scans and updates one table.
type Store struct {
	api   API
	table string
	key   string
}

// New builds a store from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table is required")
	}

	awsCfg, err := awsutil.Load(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Table, cfg.KeyAttribute), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(api API, table, keyAttribute string) *Store {
	if keyAttribute == "" {
		keyAttribute = DefaultKeyAttribute
	}
	return &Store{api: api, table: table, key: keyAttribute}
}

// Query scans the table with a server-side filter, following pagination.
func (s *Store) Query(ctx context.Context, expr predicate.Expr) ([]domain.Row, error) {
	b := newExprBuilder()
	filter, err := b.compile(expr)
	if err != nil {
		return nil, err
	}

	in := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	if filter != "" {
		in.FilterExpression = aws.String(filter)
		in.ExpressionAttributeNames = b.names
		in.ExpressionAttributeValues = b.values
	}

	var rows []domain.Row
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamo scan %s: %w", s.table, awsutil.Classify(err))
		}
		for _, item := range out.Items {
			rows = append(rows, s.decodeItem(item))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return rows, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Patch sets the given attributes on an existing item.
func (s *Store) Patch(ctx context.Context, id string, updates map[string]domain.Value) error {
	names := map[string]string{"#pk": s.key}
	values := map[string]types.AttributeValue{}

	fields := make([]string, 0, len(updates))
	for f := range updates {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	sets := make([]string, 0, len(fields))
	for i, f := range fields {
		av, err := encodeValue(updates[f])
		if err != nil {
			return fmt.Errorf("dynamo patch %s: property %q: %w", id, f, err)
		}
		n, v := fmt.Sprintf("#u%d", i), fmt.Sprintf(":u%d", i)
		names[n] = f
		values[v] = av
		sets = append(sets, n+" = "+v)
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{s.key: &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("dynamo patch %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("dynamo patch %s: %w", id, awsutil.Classify(err))
	}
	return nil
}

// Get reads one item.
func (s *Store) Get(ctx context.Context, id string) (domain.Row, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{s.key: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Row{}, fmt.Errorf("dynamo get %s: %w", id, awsutil.Classify(err))
	}
	if out.Item == nil {
		return domain.Row{}, fmt.Errorf("dynamo get %s: %w", id, domain.ErrNotFound)
	}
	return s.decodeItem(out.Item), nil
}

func (s *Store) decodeItem(item map[string]types.AttributeValue) domain.Row {
	row := domain.Row{Properties: make(map[string]domain.Value, len(item))}
	for name, av := range item {
		if name == s.key {
			var id string
			if err := attributevalue.Unmarshal(av, &id); err == nil {
				row.ID = id
			} else if n, ok := av.(*types.AttributeValueMemberN); ok {
				row.ID = n.Value
			}
			continue
		}
		if v, ok := decodeValue(av); ok {
			row.Properties[name] = v
		}
	}
	return row
}

func decodeValue(av types.AttributeValue) (domain.Value, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return domain.RichText(v.Value), true
	case *types.AttributeValueMemberBOOL:
		return domain.Checkbox(v.Value), true
	case *types.AttributeValueMemberN:
		var f float64
		if err := attributevalue.Unmarshal(v, &f); err != nil {
			return domain.Value{}, false
		}
		return domain.Number(f), true
	default:
		return domain.Value{}, false
	}
}

func encodeValue(v domain.Value) (types.AttributeValue, error) {
	switch v.Type {
	case domain.PropertyCheckbox:
		return attributevalue.Marshal(v.Bool)
	case domain.PropertyNumber:
		if v.Number == nil {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(*v.Number, 'f', -1, 64)}, nil
	case domain.PropertyFiles:
		return nil, fmt.Errorf("cannot write %q values: %w", v.Type, domain.ErrUnsupported)
	default:
		return &types.AttributeValueMemberS{Value: v.Text}, nil
	}
}
