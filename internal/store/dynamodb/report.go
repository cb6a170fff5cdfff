package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

const defaultListLimit = 20

// DynamoDB items are limited to 400 KB. Report items keep the tail of each
// stage's output within these bounds; the full logs live at LogURL.
const (
	maxItemOutput  = 256 * 1024
	maxStageOutput = 32 * 1024
)

func jsonTags(o *attributevalue.EncoderOptions)       { o.TagKey = "json" }
func jsonTagsDecode(o *attributevalue.DecoderOptions) { o.TagKey = "json" }

// NextBuildNumber atomically increments the pipeline's build counter.
func (s *Store) NextBuildNumber(ctx context.Context, pipeline string) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: pipelinePK(pipeline)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skCounter},
		},
		UpdateExpression:          aws.String("ADD #n :one"),
		ExpressionAttributeNames:  map[string]string{"#n": attrBuildNum},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{":one": &ddbtypes.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              ddbtypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing build number: %w", err)
	}
	var n int64
	if err := attributevalue.Unmarshal(out.Attributes[attrBuildNum], &n); err != nil {
		return 0, fmt.Errorf("decoding build number: %w", err)
	}
	return n, nil
}

// PutReport writes the report item and its pipeline listing entry in one
// transaction. The listing entry carries no captured output.
func (s *Store) PutReport(ctx context.Context, report types.RunReport) error {
	av, err := attributevalue.MarshalWithOptions(trimOutput(report, true), jsonTags)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	listAV, err := attributevalue.MarshalWithOptions(trimOutput(report, false), jsonTags)
	if err != nil {
		return fmt.Errorf("marshaling report listing: %w", err)
	}
	ttl := &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(ttlEpoch(s.retentionTTL), 10)}
	listSK := runListSK(report.StartedAt, report.RunID)

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{Put: &ddbtypes.Put{
				TableName: &s.tableName,
				Item: map[string]ddbtypes.AttributeValue{
					"PK":       &ddbtypes.AttributeValueMemberS{Value: runPK(report.RunID)},
					"SK":       &ddbtypes.AttributeValueMemberS{Value: skReport},
					attrReport: av,
					"ttl":      ttl,
				},
			}},
			{Put: &ddbtypes.Put{
				TableName: &s.tableName,
				Item: map[string]ddbtypes.AttributeValue{
					"PK":       &ddbtypes.AttributeValueMemberS{Value: pipelinePK(report.Pipeline)},
					"SK":       &ddbtypes.AttributeValueMemberS{Value: listSK},
					"GSI1PK":   &ddbtypes.AttributeValueMemberS{Value: gsi1Reports},
					"GSI1SK":   &ddbtypes.AttributeValueMemberS{Value: listSK},
					attrReport: listAV,
					"ttl":      ttl,
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("writing report %s: %w", report.RunID, err)
	}
	return nil
}

// GetReport reads a report by run ID; nil, nil when absent or expired.
func (s *Store) GetReport(ctx context.Context, runID string) (*types.RunReport, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skReport},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", runID, err)
	}
	if out.Item == nil || isExpired(extractTTL(out.Item)) {
		return nil, nil
	}
	r, err := decodeReport(out.Item)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReports returns recent reports newest first. An empty pipeline queries GSI1.
func (s *Store) ListReports(ctx context.Context, pipeline string, limit int) ([]types.RunReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	input := &dynamodb.QueryInput{
		TableName:        &s.tableName,
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}
	if pipeline == "" {
		input.IndexName = aws.String(gsi1)
		input.KeyConditionExpression = aws.String("GSI1PK = :pk")
		input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: gsi1Reports},
		}
	} else {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: pipelinePK(pipeline)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixRun},
		}
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	reports := make([]types.RunReport, 0, len(out.Items))
	for _, item := range out.Items {
		if isExpired(extractTTL(item)) {
			continue
		}
		r, err := decodeReport(item)
		if err != nil {
			s.logger.Warn("skipping corrupt report item", "error", err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// trimOutput returns a copy of report whose captured output fits an item.
// With keep false the output is dropped entirely.
func trimOutput(report types.RunReport, keep bool) types.RunReport {
	stages := make([]types.StageResult, len(report.Stages))
	copy(stages, report.Stages)
	limit := maxStageOutput
	if n := len(stages); n > 0 && maxItemOutput/n < limit {
		limit = maxItemOutput / n
	}
	for i := range stages {
		out := stages[i].CapturedOutput
		switch {
		case !keep:
			stages[i].CapturedOutput = ""
		case len(out) > limit:
			cut := len(out) - limit
			for cut < len(out) && !utf8.RuneStart(out[cut]) {
				cut++
			}
			stages[i].CapturedOutput = out[cut:]
			stages[i].OutputTruncated = true
		}
	}
	report.Stages = stages
	return report
}

func decodeReport(item map[string]ddbtypes.AttributeValue) (types.RunReport, error) {
	var r types.RunReport
	av, ok := item[attrReport]
	if !ok {
		return r, fmt.Errorf("item has no %s attribute", attrReport)
	}
	if err := attributevalue.UnmarshalWithOptions(av, &r, jsonTagsDecode); err != nil {
		return r, fmt.Errorf("decoding report: %w", err)
	}
	return r, nil
}

func extractTTL(item map[string]ddbtypes.AttributeValue) int64 {
	n, ok := item["ttl"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}
